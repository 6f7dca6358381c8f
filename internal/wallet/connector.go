package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account signs transactions for one address.
type Account interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Connector produces an Account.
type Connector interface {
	ID() string
	Name() string
	Connect(ctx context.Context) (Account, error)
}

// PrivateKeyConnector connects a raw hex private key.
type PrivateKeyConnector struct {
	hexKey string
}

func NewPrivateKeyConnector(hexKey string) *PrivateKeyConnector {
	return &PrivateKeyConnector{hexKey: hexKey}
}

func (c *PrivateKeyConnector) ID() string   { return "private-key" }
func (c *PrivateKeyConnector) Name() string { return "Private key" }

func (c *PrivateKeyConnector) Connect(ctx context.Context) (Account, error) {
	if strings.TrimSpace(c.hexKey) == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(c.hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &keyAccount{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

type keyAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (a *keyAccount) Address() common.Address { return a.address }

func (a *keyAccount) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
}

// KeystoreConnector connects an account from a go-ethereum keystore directory.
type KeystoreConnector struct {
	dir        string
	account    string
	passphrase string
}

// NewKeystoreConnector builds a keystore connector. An empty account selects
// the first account found in dir.
func NewKeystoreConnector(dir, account, passphrase string) *KeystoreConnector {
	return &KeystoreConnector{dir: dir, account: account, passphrase: passphrase}
}

func (c *KeystoreConnector) ID() string   { return "keystore" }
func (c *KeystoreConnector) Name() string { return "Keystore" }

func (c *KeystoreConnector) Connect(ctx context.Context) (Account, error) {
	if c.dir == "" {
		return nil, fmt.Errorf("keystore dir is empty")
	}
	ks := keystore.NewKeyStore(c.dir, keystore.StandardScryptN, keystore.StandardScryptP)

	var acct accounts.Account
	if c.account != "" {
		if !common.IsHexAddress(c.account) {
			return nil, fmt.Errorf("invalid keystore account: %s", c.account)
		}
		found, err := ks.Find(accounts.Account{Address: common.HexToAddress(c.account)})
		if err != nil {
			return nil, fmt.Errorf("find keystore account: %w", err)
		}
		acct = found
	} else {
		all := ks.Accounts()
		if len(all) == 0 {
			return nil, fmt.Errorf("no accounts in keystore %s", c.dir)
		}
		acct = all[0]
	}

	if err := ks.Unlock(acct, c.passphrase); err != nil {
		return nil, fmt.Errorf("unlock keystore account: %w", err)
	}
	return &keystoreAccount{ks: ks, account: acct}, nil
}

type keystoreAccount struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

func (a *keystoreAccount) Address() common.Address { return a.account.Address }

func (a *keystoreAccount) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return a.ks.SignTx(a.account, tx, chainID)
}

// Lock re-locks the unlocked key.
func (a *keystoreAccount) Lock() error {
	return a.ks.Lock(a.account.Address)
}
