package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"
)

// SigningKeyFromEnv loads the gateway's Ethereum account signing key from the environment variables following this strategy:
//   - If ROUTER_PRIVATE_KEY is set, it takes priority. It is the hex encoded private key.
//   - If ROUTER_SIGNER_AWS_SECRET_ID is set, the hex encoded private key is read from that AWS Secrets Manager
//     secret, using the default AWS credential chain.
//   - Otherwise ROUTER_KEYSTORE must be a path to a keystore file. If ROUTER_KEYSTORE_PASSWORD
//     is also set, that is used as the password to decrypt the keystore. Otherwise, the user is prompted for
//     this password.
func SigningKeyFromEnv(ctx context.Context) (*ecdsa.PrivateKey, error) {
	privateKeyHex := os.Getenv("ROUTER_PRIVATE_KEY")
	if privateKeyHex != "" {
		return PrivateKey(privateKeyHex)
	}

	secretID := os.Getenv("ROUTER_SIGNER_AWS_SECRET_ID")
	if secretID != "" {
		return PrivateKeyFromAWSSecret(ctx, secretID)
	}

	keystoreFile := os.Getenv("ROUTER_KEYSTORE")
	if keystoreFile == "" {
		return nil, errors.New("one of ROUTER_PRIVATE_KEY, ROUTER_SIGNER_AWS_SECRET_ID or ROUTER_KEYSTORE must be set")
	}

	prompt := false
	keystorePassword, ok := os.LookupEnv("ROUTER_KEYSTORE_PASSWORD")
	if !ok {
		prompt = true
	}
	return PrivateKeyFromKeystoreFile(keystoreFile, keystorePassword, prompt)
}

// PrivateKey decodes a private key from its hex representation.
func PrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	parsedPrivateKey, parseErr := crypto.HexToECDSA(privateKeyHex)
	return parsedPrivateKey, parseErr
}

// PrivateKeyFromAWSSecret reads a hex encoded private key stored as the string value of an AWS
// Secrets Manager secret.
func PrivateKeyFromAWSSecret(ctx context.Context, secretID string) (*ecdsa.PrivateKey, error) {
	awsConfig, configErr := config.LoadDefaultConfig(ctx)
	if configErr != nil {
		return nil, fmt.Errorf("error loading AWS configuration: %w", configErr)
	}

	client := secretsmanager.NewFromConfig(awsConfig)
	output, secretErr := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if secretErr != nil {
		return nil, fmt.Errorf("error reading secret %s: %w", secretID, secretErr)
	}
	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretID)
	}

	return PrivateKey(*output.SecretString)
}

// PrivateKeyFromKeystoreFile loads a private key from a keystore file. If prompt is true, the user will be
// interactively prompted for the password to the keystore file even if the password variable is nonempty.
func PrivateKeyFromKeystoreFile(keystoreFile, password string, prompt bool) (*ecdsa.PrivateKey, error) {
	keystoreContent, readErr := os.ReadFile(keystoreFile)
	if readErr != nil {
		return nil, readErr
	}

	if prompt {
		fmt.Fprintf(os.Stderr, "Please provide a password for keystore (%s): ", keystoreFile)
		passwordRaw, inputErr := term.ReadPassword(int(os.Stdin.Fd()))
		if inputErr != nil {
			return nil, fmt.Errorf("error reading password: %s", inputErr.Error())
		}
		fmt.Fprint(os.Stderr, "\n")
		password = string(passwordRaw)
	}

	key, err := keystore.DecryptKey(keystoreContent, password)
	if err != nil {
		return nil, err
	}
	return key.PrivateKey, nil
}

// Signs bytes using a private key and return the signature.
// The "sensible" parameter refers to the v-byte of the signature. If it is true, then the v-byte will
// be 0 or 1. Default should be sensible=false. For more information look at comment in the function implementation.
func SignRawMessage(message []byte, key *ecdsa.PrivateKey, sensible bool) ([]byte, error) {
	signature, err := crypto.Sign(message, key)
	if err != nil {
		return nil, err
	}
	if !sensible {
		// This refers to a bug in an early Ethereum client implementation where the v parameter byte was
		// shifted by 27: https://github.com/ethereum/go-ethereum/issues/2053
		// Default for callers should be NOT sensible.
		if signature[64] < 2 {
			signature[64] += 27
		}
	}
	return signature, nil
}
