package main

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestFactoryAddressesFollowCreate(t *testing.T) {
	factory := NewRewardNFTFactory(testRewardFactoryAddress)
	params := CollectionParams{Name: testNFT.Name, Symbol: testNFT.Symbol, Owners: []common.Address{generateAddress(t)}}

	for deployNonce := uint64(1); deployNonce <= 3; deployNonce++ {
		asset, err := factory.Create(context.Background(), params)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if expected := crypto.CreateAddress(testRewardFactoryAddress, deployNonce); asset != expected {
			t.Fatalf("deploy nonce %d: expected %s, got %s", deployNonce, expected.Hex(), asset.Hex())
		}
	}
	if factory.Count() != 3 {
		t.Fatalf("expected 3 collections, got %d", factory.Count())
	}
}

func TestFactoriesDoNotCollide(t *testing.T) {
	reward := NewRewardNFTFactory(testRewardFactoryAddress)
	contributor := NewContributorNFTFactory(testContributorFactoryAddress)
	params := CollectionParams{Owners: []common.Address{generateAddress(t)}}

	rewardAsset, err := reward.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("reward create: %v", err)
	}
	contributorAsset, err := contributor.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("contributor create: %v", err)
	}
	if rewardAsset == contributorAsset {
		t.Fatalf("factories at different addresses must not produce the same asset")
	}
	if reward.Kind() != RewardKind || contributor.Kind() != ContributorKind {
		t.Fatalf("unexpected kinds: %s, %s", reward.Kind(), contributor.Kind())
	}

	collection, ok := contributor.Collection(contributorAsset)
	if !ok || collection.Kind != ContributorKind || collection.Factory != testContributorFactoryAddress {
		t.Fatalf("unexpected contributor collection: %+v", collection)
	}
}

func TestFactoryDiscard(t *testing.T) {
	factory := NewContributorNFTFactory(testContributorFactoryAddress)
	params := CollectionParams{Owners: []common.Address{generateAddress(t)}}

	first, _ := factory.Create(context.Background(), params)
	second, _ := factory.Create(context.Background(), params)

	// Discarding an older collection keeps the deploy nonce where it is.
	if err := factory.Discard(context.Background(), first); err != nil {
		t.Fatalf("discard first: %v", err)
	}
	third, _ := factory.Create(context.Background(), params)
	if third != crypto.CreateAddress(testContributorFactoryAddress, 3) {
		t.Fatalf("expected the third address, got %s", third.Hex())
	}

	// Discarding the latest rewinds it.
	if err := factory.Discard(context.Background(), third); err != nil {
		t.Fatalf("discard third: %v", err)
	}
	again, _ := factory.Create(context.Background(), params)
	if again != third {
		t.Fatalf("expected %s to be reused, got %s", third.Hex(), again.Hex())
	}

	if _, ok := factory.Collection(first); ok {
		t.Fatalf("discarded collection is still present")
	}
	if _, ok := factory.Collection(second); !ok {
		t.Fatalf("second collection went missing")
	}
	if err := factory.Discard(context.Background(), first); err == nil {
		t.Fatalf("expected discarding an unknown collection to fail")
	}
}

func TestFactoryCreateCopiesOwners(t *testing.T) {
	factory := NewRewardNFTFactory(testRewardFactoryAddress)
	owner := generateAddress(t)
	owners := []common.Address{owner}

	asset, err := factory.Create(context.Background(), CollectionParams{Owners: owners})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	owners[0] = common.Address{}

	collection, _ := factory.Collection(asset)
	if !collection.IsOwner(owner) {
		t.Fatalf("collection owners must not alias the caller's slice")
	}
}

func TestFactoryCreateCancelled(t *testing.T) {
	factory := NewRewardNFTFactory(testRewardFactoryAddress)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := factory.Create(ctx, CollectionParams{Owners: []common.Address{generateAddress(t)}}); err == nil {
		t.Fatalf("expected a cancelled context to fail creation")
	}
	if factory.Count() != 0 {
		t.Fatalf("a failed creation must not leave a collection behind")
	}
}

func TestCollectionTokenURI(t *testing.T) {
	collection := Collection{BaseURI: "ipfs://base/"}
	if uri := collection.TokenURI(bigInt(42)); uri != "ipfs://base/42" {
		t.Fatalf("unexpected token uri: %s", uri)
	}
	if uri := (&Collection{}).TokenURI(bigInt(1)); uri != "" {
		t.Fatalf("expected empty uri without a base, got %s", uri)
	}
}
