package main

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CollectionParams are the constructor arguments of a new collection.
type CollectionParams struct {
	Name         string
	Symbol       string
	BaseURI      string
	Owners       []common.Address
	Transferable bool
}

// Collection is the created asset. Minting, transfers and burning happen on the collection itself
// and are not modelled here.
type Collection struct {
	Address      common.Address   `json:"address"`
	Kind         AssetKind        `json:"kind"`
	Factory      common.Address   `json:"factory"`
	Name         string           `json:"name"`
	Symbol       string           `json:"symbol"`
	BaseURI      string           `json:"baseURI"`
	Owners       []common.Address `json:"owners"`
	Transferable bool             `json:"transferable"`
	CreatedAt    time.Time        `json:"createdAt"`
}

func (collection *Collection) IsOwner(account common.Address) bool {
	for _, owner := range collection.Owners {
		if owner == account {
			return true
		}
	}
	return false
}

// TokenURI follows the ERC721 default of baseURI followed by the decimal token id.
func (collection *Collection) TokenURI(tokenID *big.Int) string {
	if collection.BaseURI == "" {
		return ""
	}
	return collection.BaseURI + tokenID.String()
}

// collectionFactory deploys collections the way an EVM factory contract does: every collection's
// address is derived from the factory address and the factory's deploy nonce, which starts at 1.
type collectionFactory struct {
	kind    AssetKind
	address common.Address

	mu          sync.Mutex
	deployNonce uint64
	collections map[common.Address]*Collection
}

func newCollectionFactory(kind AssetKind, address common.Address) *collectionFactory {
	return &collectionFactory{
		kind:        kind,
		address:     address,
		deployNonce: 1,
		collections: make(map[common.Address]*Collection),
	}
}

func (factory *collectionFactory) Kind() AssetKind {
	return factory.kind
}

func (factory *collectionFactory) Address() common.Address {
	return factory.address
}

func (factory *collectionFactory) Create(ctx context.Context, params CollectionParams) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}

	factory.mu.Lock()
	defer factory.mu.Unlock()

	asset := crypto.CreateAddress(factory.address, factory.deployNonce)
	owners := make([]common.Address, len(params.Owners))
	copy(owners, params.Owners)

	factory.collections[asset] = &Collection{
		Address:      asset,
		Kind:         factory.kind,
		Factory:      factory.address,
		Name:         params.Name,
		Symbol:       params.Symbol,
		BaseURI:      params.BaseURI,
		Owners:       owners,
		Transferable: params.Transferable,
		CreatedAt:    time.Now().UTC(),
	}
	factory.deployNonce++

	return asset, nil
}

// Discard removes a collection. When it is the most recent one the deploy nonce is rewound as well,
// the same as a reverted CREATE.
func (factory *collectionFactory) Discard(ctx context.Context, asset common.Address) error {
	factory.mu.Lock()
	defer factory.mu.Unlock()

	if _, ok := factory.collections[asset]; !ok {
		return fmt.Errorf("%s factory has no collection at %s", factory.kind, asset.Hex())
	}
	delete(factory.collections, asset)
	if factory.deployNonce > 1 && crypto.CreateAddress(factory.address, factory.deployNonce-1) == asset {
		factory.deployNonce--
	}
	return nil
}

// Collection returns a copy of the collection deployed at asset.
func (factory *collectionFactory) Collection(asset common.Address) (Collection, bool) {
	factory.mu.Lock()
	defer factory.mu.Unlock()

	collection, ok := factory.collections[asset]
	if !ok {
		return Collection{}, false
	}
	result := *collection
	result.Owners = append([]common.Address(nil), collection.Owners...)
	return result, true
}

func (factory *collectionFactory) Count() int {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	return len(factory.collections)
}

type RewardNFTFactory struct {
	*collectionFactory
}

func NewRewardNFTFactory(address common.Address) *RewardNFTFactory {
	return &RewardNFTFactory{collectionFactory: newCollectionFactory(RewardKind, address)}
}

type ContributorNFTFactory struct {
	*collectionFactory
}

func NewContributorNFTFactory(address common.Address) *ContributorNFTFactory {
	return &ContributorNFTFactory{collectionFactory: newCollectionFactory(ContributorKind, address)}
}
