package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/robertlestak/txbatch/internal/checksum"
	"github.com/robertlestak/txbatch/internal/schema"
)

const (
	// DepositContractAddress is the mainnet beacon chain deposit contract.
	DepositContractAddress = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
	// DepositAmount is 32 ether in wei.
	DepositAmount = "32000000000000000000"

	// PlaceholderChecksum is the checksum deposit imports have always carried.
	PlaceholderChecksum = "0xdd47b3aa6161df4e15737f90f5a2c59c70abeaabcd1a7ff795697edefcdbe85a"
)

// LegacyDefaults fills the batch metadata that deposit data files do not
// carry.
type LegacyDefaults struct {
	ChainID          string
	Name             string
	Description      string
	TxBuilderVersion string
	SafeAddress      string
	OwnerAddress     string
	// ComputeChecksum replaces PlaceholderChecksum with the checksum of the
	// converted batch.
	ComputeChecksum bool
}

func DefaultLegacyDefaults() LegacyDefaults {
	return LegacyDefaults{
		ChainID:          "5",
		Name:             "Transactions Batch",
		TxBuilderVersion: "1.14.1",
		SafeAddress:      "0x4f3e63c1B60B88eEEc2BA7551C502b0a07D857Ed",
	}
}

func depositMethod() *schema.ContractMethod {
	return &schema.ContractMethod{
		Inputs: []schema.ContractInput{
			{InternalType: "bytes", Name: "pubkey", Type: "bytes"},
			{InternalType: "bytes", Name: "withdrawal_credentials", Type: "bytes"},
			{InternalType: "bytes", Name: "signature", Type: "bytes"},
			{InternalType: "bytes32", Name: "deposit_data_root", Type: "bytes32"},
		},
		Name:    "deposit",
		Payable: true,
	}
}

// prefixHex adds a single 0x prefix.
func prefixHex(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

func depositTransaction(d schema.DepositData) (schema.BatchTransaction, error) {
	values := schema.InputValues{}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"pubkey", d.Pubkey},
		{"withdrawal_credentials", d.WithdrawalCredentials},
		{"signature", d.Signature},
		{"deposit_data_root", d.DepositDataRoot},
	} {
		iv, err := schema.NewInputValue(f.name, prefixHex(f.value))
		if err != nil {
			return schema.BatchTransaction{}, err
		}
		values = append(values, iv)
	}
	if len(d.Hidden) > 0 {
		values = append(values, schema.InputValue{Name: "hidden", Value: d.Hidden})
	}
	if len(d.Locked) > 0 {
		values = append(values, schema.InputValue{Name: "locked", Value: d.Locked})
	}
	return schema.BatchTransaction{
		To:                   DepositContractAddress,
		Value:                DepositAmount,
		ContractMethod:       depositMethod(),
		ContractInputsValues: values,
	}, nil
}

// ConvertDeposits builds one deposit contract call per entry, in order.
func ConvertDeposits(deposits []schema.DepositData, defaults LegacyDefaults, now time.Time) (*schema.BatchFile, error) {
	txs := make([]schema.BatchTransaction, 0, len(deposits))
	for i, d := range deposits {
		tx, err := depositTransaction(d)
		if err != nil {
			return nil, fmt.Errorf("deposit %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	b := &schema.BatchFile{
		Version:   schema.SchemaVersion,
		ChainID:   defaults.ChainID,
		CreatedAt: now.UnixMilli(),
		Meta: schema.BatchFileMeta{
			Name:                    defaults.Name,
			Description:             defaults.Description,
			TxBuilderVersion:        defaults.TxBuilderVersion,
			CreatedFromSafeAddress:  defaults.SafeAddress,
			CreatedFromOwnerAddress: defaults.OwnerAddress,
			Checksum:                PlaceholderChecksum,
		},
		Transactions: txs,
	}
	if defaults.ComputeChecksum {
		sum, err := checksum.Calculate(b)
		if err != nil {
			return nil, err
		}
		b.Meta.Checksum = sum
	}
	return b, nil
}
