package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	defaultRewardFactoryAddress      = common.BigToAddress(big.NewInt(1))
	defaultContributorFactoryAddress = common.BigToAddress(big.NewInt(2))
)

func getEnv(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// RouterSettings is the environment driven configuration of a router process.
type RouterSettings struct {
	TrustedSigner             common.Address
	Scheme                    SigningScheme
	RewardFactoryAddress      common.Address
	ContributorFactoryAddress common.Address
	RedisAddr                 string
	EventsChannel             string
	CORSAllowedOrigins        []string
}

func (settings *RouterSettings) ConfigureFromEnv() error {
	trustedSignerRaw := os.Getenv("ROUTER_TRUSTED_SIGNER")
	if !common.IsHexAddress(trustedSignerRaw) {
		return errors.New("ROUTER_TRUSTED_SIGNER must be set to an Ethereum address")
	}
	settings.TrustedSigner = common.HexToAddress(trustedSignerRaw)
	if settings.TrustedSigner == ZERO_ADDRESS {
		return fmt.Errorf("ROUTER_TRUSTED_SIGNER must be set to a non-zero Ethereum address")
	}

	var err error
	settings.Scheme, err = ParseSigningScheme(os.Getenv("ROUTER_SIGNING_SCHEME"))
	if err != nil {
		return err
	}

	settings.RewardFactoryAddress, err = addressFromEnv("ROUTER_REWARD_FACTORY", defaultRewardFactoryAddress)
	if err != nil {
		return err
	}
	settings.ContributorFactoryAddress, err = addressFromEnv("ROUTER_CONTRIBUTOR_FACTORY", defaultContributorFactoryAddress)
	if err != nil {
		return err
	}
	if settings.RewardFactoryAddress == settings.ContributorFactoryAddress {
		return errors.New("ROUTER_REWARD_FACTORY and ROUTER_CONTRIBUTOR_FACTORY must differ")
	}

	settings.RedisAddr = getEnv("ROUTER_REDIS_ADDR", "")
	settings.EventsChannel = getEnv("ROUTER_EVENTS_CHANNEL", "nft-router.creations")

	settings.CORSAllowedOrigins = nil
	for _, origin := range strings.Split(os.Getenv("ROUTER_CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			settings.CORSAllowedOrigins = append(settings.CORSAllowedOrigins, origin)
		}
	}

	return nil
}

func addressFromEnv(name string, fallback common.Address) (common.Address, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be an Ethereum address, got %s", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// RouterService is a fully wired router with the resources it owns.
type RouterService struct {
	Settings    RouterSettings
	Router      *Router
	Nonces      NonceRegistry
	NonceStore  string
	Reward      *RewardNFTFactory
	Contributor *ContributorNFTFactory

	closers []func() error
}

// NewRouterServiceFromEnv builds the router, its nonce store and its observers from the environment.
func NewRouterServiceFromEnv(ctx context.Context, log *Logger) (*RouterService, error) {
	service := &RouterService{}
	if err := service.Settings.ConfigureFromEnv(); err != nil {
		return nil, err
	}

	nonces, store, err := NonceRegistryFromEnv(ctx, log)
	if err != nil {
		return nil, err
	}
	service.Nonces = nonces
	service.NonceStore = store
	service.closers = append(service.closers, nonces.Close)

	observers := []Observer{NewLogObserver(log)}
	if service.Settings.RedisAddr != "" {
		publisher, publisherErr := OpenRedisObserver(ctx, service.Settings.RedisAddr, service.Settings.EventsChannel)
		if publisherErr != nil {
			service.Close()
			return nil, publisherErr
		}
		observers = append(observers, publisher)
		service.closers = append(service.closers, publisher.Close)
	}

	service.Reward = NewRewardNFTFactory(service.Settings.RewardFactoryAddress)
	service.Contributor = NewContributorNFTFactory(service.Settings.ContributorFactoryAddress)

	service.Router, err = NewRouter(RouterConfig{
		TrustedSigner: service.Settings.TrustedSigner,
		Scheme:        service.Settings.Scheme,
		Factories: map[AssetKind]Factory{
			RewardKind:      service.Reward,
			ContributorKind: service.Contributor,
		},
	}, nonces, log, observers...)
	if err != nil {
		service.Close()
		return nil, err
	}

	return service, nil
}

func (service *RouterService) Close() error {
	var errs []error
	for i := len(service.closers) - 1; i >= 0; i-- {
		if err := service.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	service.closers = nil
	return errors.Join(errs...)
}
