package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ZERO_ADDRESS = common.BigToAddress(big.NewInt(0))

var (
	ErrInvalidOwners      error = errors.New("owners must not be empty")
	ErrUnknownAssetKind   error = errors.New("unknown asset kind")
	ErrInvalidSignature   error = errors.New("invalid signature")
	ErrMalformedSignature error = errors.New("malformed signature")
	ErrNonceAlreadyUsed   error = errors.New("this nonce was used on a previous deployment")
	ErrAssetCreation      error = errors.New("asset creation failed")
)

// AssetKind selects the factory a deploy request is routed to. The numeric values match the kind
// argument of the original router contract.
type AssetKind uint8

const (
	RewardKind AssetKind = iota
	ContributorKind
)

var knownAssetKinds = []AssetKind{RewardKind, ContributorKind}

func (kind AssetKind) String() string {
	switch kind {
	case RewardKind:
		return "reward"
	case ContributorKind:
		return "contributor"
	default:
		return fmt.Sprintf("kind(%d)", uint8(kind))
	}
}

// EventName is the conventional name of the creation record emitted for this kind.
func (kind AssetKind) EventName() string {
	switch kind {
	case RewardKind:
		return "MintRewardNFT"
	case ContributorKind:
		return "MintContributorNFT"
	default:
		return ""
	}
}

// ParseAssetKind accepts either the kind's name or its numeric value. Numeric values outside the
// known set are returned as-is so that routing, not parsing, rejects them.
func ParseAssetKind(raw string) (AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "reward":
		return RewardKind, nil
	case "contributor":
		return ContributorKind, nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAssetKind, raw)
	}
	return AssetKind(value), nil
}

func (kind AssetKind) MarshalJSON() ([]byte, error) {
	if kind.EventName() == "" {
		return json.Marshal(uint8(kind))
	}
	return json.Marshal(kind.String())
}

// UnmarshalJSON accepts a kind name or a number. Anything that cannot be a kind at all (out of uint8
// range, an unknown name, a non-scalar) fails with ErrUnknownAssetKind.
func (kind *AssetKind) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}

	var name string
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownAssetKind, raw)
		}
	} else {
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownAssetKind, raw)
		}
		name = number.String()
	}

	parsed, err := ParseAssetKind(name)
	if err != nil {
		return err
	}
	*kind = parsed
	return nil
}

// DeployRequest is one gateway-authorized request to create a collection.
type DeployRequest struct {
	Name         string
	Symbol       string
	BaseURI      string
	Owners       []common.Address
	Transferable bool
	Kind         AssetKind
	Nonce        []byte
	Signature    []byte
}

func (request DeployRequest) CollectionParams() CollectionParams {
	owners := make([]common.Address, len(request.Owners))
	copy(owners, request.Owners)
	return CollectionParams{
		Name:         request.Name,
		Symbol:       request.Symbol,
		BaseURI:      request.BaseURI,
		Owners:       owners,
		Transferable: request.Transferable,
	}
}

// CreationRecord is reported to the caller and every observer after a successful deployment.
type CreationRecord struct {
	Event     string           `json:"event"`
	Kind      AssetKind        `json:"kind"`
	Asset     common.Address   `json:"asset"`
	Factory   common.Address   `json:"factory"`
	Nonce     string           `json:"nonce"`
	Owners    []common.Address `json:"owners"`
	CreatedAt time.Time        `json:"createdAt"`
}

type PingResponse struct {
	Status string `json:"status"`
}

type AddressResponse struct {
	Address string `json:"address"`
}

type AuthorizationHashRequest struct {
	Nonce string    `json:"nonce"`
	Kind  AssetKind `json:"kind"`
}

type AuthorizationHashResponse struct {
	Scheme            string `json:"scheme"`
	AuthorizationHash string `json:"authorizationHash"`
}

type DeployNFTRequest struct {
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	BaseURI      string    `json:"baseURI"`
	Owners       []string  `json:"owners"`
	Transferable bool      `json:"transferable"`
	Signature    string    `json:"signature"`
	Nonce        string    `json:"nonce"`
	Kind         AssetKind `json:"kind"`
}

type DeployNFTResponse struct {
	RequestID string          `json:"request_id"`
	Record    *CreationRecord `json:"record"`
}

type NonceResponse struct {
	Nonce    string `json:"nonce"`
	Consumed bool   `json:"consumed"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	RequestID string    `json:"request_id"`
	Error     ErrorBody `json:"error"`
}

// ParseDeployNFTRequest converts the JSON body of a deploy call into a DeployRequest. Owner
// addresses must be valid hex and the signature must be hex encoded (with or without 0x).
func ParseDeployNFTRequest(request *DeployNFTRequest) (DeployRequest, error) {
	owners := make([]common.Address, 0, len(request.Owners))
	for _, owner := range request.Owners {
		if !common.IsHexAddress(owner) {
			return DeployRequest{}, fmt.Errorf("Error parsing owner address: %s", owner)
		}
		owners = append(owners, common.HexToAddress(owner))
	}

	signature, err := decodeHex(request.Signature)
	if err != nil {
		return DeployRequest{}, fmt.Errorf("Error parsing signature: %v", err)
	}

	return DeployRequest{
		Name:         request.Name,
		Symbol:       request.Symbol,
		BaseURI:      request.BaseURI,
		Owners:       owners,
		Transferable: request.Transferable,
		Kind:         request.Kind,
		Nonce:        []byte(request.Nonce),
		Signature:    signature,
	}, nil
}

func decodeHex(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	return hexutil.Decode(raw)
}
