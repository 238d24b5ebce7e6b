package app

import (
	"fmt"
	"time"

	"line-flex-bridge/internal/channeltoken"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/config"
	"line-flex-bridge/internal/crypto"
	"line-flex-bridge/internal/locks"
)

const (
	mintLockTTL  = 30 * time.Second
	mintLockWait = 15 * time.Second
)

func (app *App) loadKey() (*channeltoken.KeyMaterial, error) {
	cfg := app.Config
	if cfg.LinePrivateKeyFile != "" {
		return channeltoken.LoadKeyMaterial(cfg.LineAssertionKeyID, cfg.LinePrivateKeyFile)
	}
	return channeltoken.ParseKeyMaterial(cfg.LineAssertionKeyID, []byte(cfg.LinePrivateKey))
}

func (app *App) initializeTokens() error {
	cfg := app.Config

	key, err := app.loadKey()
	if err != nil {
		return fmt.Errorf("failed to load LINE assertion key: %w", err)
	}
	app.Credentials = channeltoken.ChannelCredentials{
		ChannelID:      cfg.LineChannelID,
		Key:            key,
		CacheNamespace: cfg.TokenCacheNamespace,
	}

	cacheOpts := []channeltoken.CacheOption{channeltoken.WithCacheLogger(app.Logger)}
	if cfg.TokenCacheEncryptionKey != "" {
		encryptor, err := crypto.NewTokenEncryptor(cfg.TokenCacheEncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize token encryption: %w", err)
		}
		app.Encryptor = encryptor
		cacheOpts = append(cacheOpts, channeltoken.WithEncryptor(encryptor))
		app.Logger.Info("Token cache encryption: Enabled")
	}
	cache := channeltoken.NewDocumentCache(app.Store, cacheOpts...)

	exchanger := channeltoken.NewExchangeClient(
		channeltoken.WithTokenURL(cfg.LineTokenURL),
		channeltoken.WithExchangeLogger(app.Logger),
	)

	opts := []channeltoken.Option{
		channeltoken.WithCallTimeout(cfg.TokenCallTimeout),
		channeltoken.WithLogger(app.Logger),
	}
	if cfg.TokenLocalExpiryCheck {
		opts = append(opts, channeltoken.WithLocalExpiryCheck())
	}
	switch cfg.TokenMintDedup {
	case config.DedupLocal:
		opts = append(opts, channeltoken.WithMintDeduplicator(channeltoken.NewLocalDeduplicator()))
	case config.DedupDistributed:
		locker, err := locks.NewRedsyncManager(app.RedisClient)
		if err != nil {
			return fmt.Errorf("failed to initialize mint locks: %w", err)
		}
		opts = append(opts, channeltoken.WithMintDeduplicator(
			channeltoken.NewLockDeduplicator(locker, mintLockTTL, mintLockWait, app.Logger),
		))
	}

	app.Tokens = channeltoken.NewCredentialService(cache, channeltoken.RS256Signer{}, exchanger, opts...)
	app.Logger.Info("Channel token service ready",
		logging.Field{Key: "channel_id", Value: cfg.LineChannelID},
		logging.Field{Key: "key_id", Value: key.KeyID},
		logging.Field{Key: "dedup", Value: cfg.TokenMintDedup},
		logging.Field{Key: "local_expiry_check", Value: cfg.TokenLocalExpiryCheck},
	)
	return nil
}

func (app *App) initializeScheduler() error {
	cfg := app.Config
	app.Scheduler = channeltoken.NewScheduler(cfg.TokenCallTimeout*3, app.Logger)

	if cfg.TokenPrewarmSchedule != "" {
		if err := app.Scheduler.AddPrewarm(cfg.TokenPrewarmSchedule, app.Tokens.Source(app.Credentials)); err != nil {
			return err
		}
	}
	if purger, ok := app.Store.(channeltoken.Purger); ok && cfg.TokenPurgeSchedule != "" {
		if err := app.Scheduler.AddPurge(cfg.TokenPurgeSchedule, purger); err != nil {
			return err
		}
	}
	return nil
}
