package main

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var testNFT = struct {
	Name    string
	Symbol  string
	BaseURI string
}{
	Name:    "Gateway NFT",
	Symbol:  "GATENFT",
	BaseURI: "kjzl6cwe1jw147adql2y5p8zsw90m1q79rqvpozq6qn0cecpuxq048iuab8bmxh",
}

const testNonce = "54758568967"

var (
	testRewardFactoryAddress      = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testContributorFactoryAddress = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func generateAddress(t *testing.T) common.Address {
	t.Helper()
	return crypto.PubkeyToAddress(generateKey(t).PublicKey)
}

func signAuthorization(t *testing.T, key *ecdsa.PrivateKey, scheme SigningScheme, kind AssetKind, nonce string) []byte {
	t.Helper()
	authorizer, err := NewGatewayAuthorizer(key, scheme)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	signature, err := authorizer.Authorize(kind, []byte(nonce))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return signature
}

func newDeployRequest(t *testing.T, key *ecdsa.PrivateKey, scheme SigningScheme, kind AssetKind, nonce string, owners ...common.Address) DeployRequest {
	t.Helper()
	return DeployRequest{
		Name:         testNFT.Name,
		Symbol:       testNFT.Symbol,
		BaseURI:      testNFT.BaseURI,
		Owners:       owners,
		Transferable: true,
		Kind:         kind,
		Nonce:        []byte(nonce),
		Signature:    signAuthorization(t, key, scheme, kind, nonce),
	}
}

// countingFactory records calls and can be made to fail.
type countingFactory struct {
	*collectionFactory

	mu         sync.Mutex
	creates    int
	discards   int
	createErr  error
	discardErr error
}

func newCountingFactory(kind AssetKind, address common.Address) *countingFactory {
	return &countingFactory{collectionFactory: newCollectionFactory(kind, address)}
}

func (factory *countingFactory) Create(ctx context.Context, params CollectionParams) (common.Address, error) {
	factory.mu.Lock()
	factory.creates++
	createErr := factory.createErr
	factory.mu.Unlock()
	if createErr != nil {
		return common.Address{}, createErr
	}
	return factory.collectionFactory.Create(ctx, params)
}

func (factory *countingFactory) Discard(ctx context.Context, asset common.Address) error {
	factory.mu.Lock()
	factory.discards++
	discardErr := factory.discardErr
	factory.mu.Unlock()
	if discardErr != nil {
		return discardErr
	}
	return factory.collectionFactory.Discard(ctx, asset)
}

func (factory *countingFactory) Creates() int {
	factory.mu.Lock()
	defer factory.mu.Unlock()
	return factory.creates
}

// flakyRegistry wraps a memory registry and fails commits on demand. A failed commit leaves the
// reservation open, like a backend that lost its connection.
type flakyRegistry struct {
	*MemoryNonceRegistry
	commitErr  error
	reserveErr error
	reserves   atomic.Int32
}

func (registry *flakyRegistry) Reserve(ctx context.Context, nonce []byte) (NonceReservation, error) {
	registry.reserves.Add(1)
	if registry.reserveErr != nil {
		return nil, registry.reserveErr
	}
	reservation, err := registry.MemoryNonceRegistry.Reserve(ctx, nonce)
	if err != nil {
		return nil, err
	}
	return &flakyReservation{NonceReservation: reservation, commitErr: registry.commitErr}, nil
}

type flakyReservation struct {
	NonceReservation
	commitErr error
}

func (reservation *flakyReservation) Commit(ctx context.Context) error {
	if reservation.commitErr != nil {
		return reservation.commitErr
	}
	return reservation.NonceReservation.Commit(ctx)
}

type routerFixture struct {
	gateway     *ecdsa.PrivateKey
	router      *Router
	nonces      *flakyRegistry
	reward      *countingFactory
	contributor *countingFactory
	records     []CreationRecord
	recordsMu   sync.Mutex
}

func newRouterFixture(t *testing.T, scheme SigningScheme) *routerFixture {
	t.Helper()
	fixture := &routerFixture{
		gateway:     generateKey(t),
		nonces:      &flakyRegistry{MemoryNonceRegistry: NewMemoryNonceRegistry()},
		reward:      newCountingFactory(RewardKind, testRewardFactoryAddress),
		contributor: newCountingFactory(ContributorKind, testContributorFactoryAddress),
	}
	observer := ObserverFunc(func(ctx context.Context, record CreationRecord) error {
		fixture.recordsMu.Lock()
		defer fixture.recordsMu.Unlock()
		fixture.records = append(fixture.records, record)
		return nil
	})

	router, err := NewRouter(RouterConfig{
		TrustedSigner: crypto.PubkeyToAddress(fixture.gateway.PublicKey),
		Scheme:        scheme,
		Factories: map[AssetKind]Factory{
			RewardKind:      fixture.reward,
			ContributorKind: fixture.contributor,
		},
	}, fixture.nonces, NewNopLogger(), observer)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	fixture.router = router
	return fixture
}

func (fixture *routerFixture) Records() []CreationRecord {
	fixture.recordsMu.Lock()
	defer fixture.recordsMu.Unlock()
	return append([]CreationRecord(nil), fixture.records...)
}

func bigInt(value int64) *big.Int {
	return big.NewInt(value)
}
