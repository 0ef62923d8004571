package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the batch file schema version written by this tool.
const SchemaVersion = "1.0.0"

var (
	ErrMissingName        = errors.New("batch meta.name is required")
	ErrUnsupportedVersion = errors.New("unsupported batch schema version")
)

// BatchFile is the canonical, storable representation of a transaction batch.
type BatchFile struct {
	Version      string             `json:"version"`
	ChainID      string             `json:"chainId"`
	CreatedAt    int64              `json:"createdAt"`
	Meta         BatchFileMeta      `json:"meta"`
	Transactions []BatchTransaction `json:"transactions"`
}

type BatchFileMeta struct {
	TxBuilderVersion        string `json:"txBuilderVersion,omitempty"`
	Checksum                string `json:"checksum,omitempty"`
	CreatedFromSafeAddress  string `json:"createdFromSafeAddress,omitempty"`
	CreatedFromOwnerAddress string `json:"createdFromOwnerAddress,omitempty"`
	Name                    string `json:"name"`
	Description             string `json:"description,omitempty"`
}

// BatchTransaction carries either raw call data or a contract method with
// its input values.
type BatchTransaction struct {
	To                   string          `json:"to"`
	Value                string          `json:"value"`
	Data                 string          `json:"data,omitempty"`
	ContractMethod       *ContractMethod `json:"contractMethod,omitempty"`
	ContractInputsValues InputValues     `json:"contractInputsValues,omitempty"`
}

type ContractMethod struct {
	Inputs  []ContractInput `json:"inputs"`
	Name    string          `json:"name"`
	Payable bool            `json:"payable"`
}

// ContractInput is one ABI parameter. Components is set for tuple types.
type ContractInput struct {
	InternalType string          `json:"internalType"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Components   []ContractInput `json:"components,omitempty"`
}

// DepositData is one entry of a deposit-cli deposit_data file. Hex fields
// are stored without a 0x prefix.
type DepositData struct {
	Pubkey                string          `json:"pubkey"`
	WithdrawalCredentials string          `json:"withdrawal_credentials"`
	Amount                json.RawMessage `json:"amount,omitempty"`
	Signature             string          `json:"signature"`
	DepositMessageRoot    string          `json:"deposit_message_root,omitempty"`
	DepositDataRoot       string          `json:"deposit_data_root"`
	ForkVersion           string          `json:"fork_version,omitempty"`
	NetworkName           string          `json:"network_name,omitempty"`
	DepositCLIVersion     string          `json:"deposit_cli_version,omitempty"`
	Hidden                json.RawMessage `json:"hidden,omitempty"`
	Locked                json.RawMessage `json:"locked,omitempty"`
}

// Envelope is a full export of another store: batch id to batch file.
// Entries are kept raw so that one bad entry does not fail the whole file.
type Envelope struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Validate checks the invariants every stored batch must satisfy.
func (b *BatchFile) Validate() error {
	if b == nil || b.Meta.Name == "" {
		return ErrMissingName
	}
	return nil
}

// CheckVersion reports whether v is a schema version this tool understands.
func CheckVersion(v string) error {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, v, err)
	}
	if sv.Major() != 1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, sv.Original())
	}
	return nil
}
