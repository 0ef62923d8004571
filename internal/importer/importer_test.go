package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robertlestak/txbatch/internal/checksum"
	"github.com/robertlestak/txbatch/internal/kv"
	"github.com/robertlestak/txbatch/internal/schema"
	"github.com/robertlestak/txbatch/internal/store"
	"github.com/robertlestak/txbatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestImporter(t *testing.T, opts ...Option) (*Importer, *store.Store, *telemetry.Recorder) {
	t.Helper()
	rec := &telemetry.Recorder{}
	s := store.New(kv.NewMemory(), rec)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(s, rec, opts...), s, rec
}

const singleBatch = `{
	"version": "1.0",
	"chainId": "1",
	"createdAt": 1690000000000,
	"meta": {"name": "Payroll", "description": "march"},
	"transactions": [
		{"to": "0x1", "value": "1", "data": "0x"},
		{"to": "0x2", "value": "2"},
		{"to": "0x3", "value": "3"}
	]
}`

const depositFile = `[{"pubkey":"aa","withdrawal_credentials":"bb","amount":32000000000,"signature":"cc","deposit_message_root":"ee","deposit_data_root":"dd","fork_version":"00000000","network_name":"mainnet","deposit_cli_version":"2.3.0","hidden":false,"locked":false}]`

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{"single batch", singleBatch, KindBatch},
		{"deposits", depositFile, KindLegacy},
		{"empty array", `[]`, KindLegacy},
		{"bulk", `{"data":{"a":{}}}`, KindBulk},
		{"empty bulk", `{"data":{}}`, KindBulk},
		{"garbage object", `{"foo":1}`, KindUnrecognized},
		{"data not an object", `{"data":[1]}`, KindUnrecognized},
		{"empty meta", `{"meta":{},"transactions":[]}`, KindBatch},
		{"null meta", `{"meta":null,"transactions":[]}`, KindUnrecognized},
		{"zero transactions value", `{"meta":{"name":"x"},"transactions":0}`, KindUnrecognized},
		{"deposit missing root", `[{"pubkey":"aa","withdrawal_credentials":"bb","signature":"cc"}]`, KindUnrecognized},
		{"deposit empty field", `[{"pubkey":"","withdrawal_credentials":"bb","signature":"cc","deposit_data_root":"dd"}]`, KindUnrecognized},
		{"mixed array", `[{"pubkey":"aa","withdrawal_credentials":"bb","signature":"cc","deposit_data_root":"dd"}, 5]`, KindUnrecognized},
		{"string", `"hello"`, KindUnrecognized},
		{"null", `null`, KindUnrecognized},
		{"number", `42`, KindUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parse([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, Classify(doc))
		})
	}
}

func TestClassifyPriority(t *testing.T) {
	// a batch file that also carries bulk data is still a single batch
	in := `{"meta":{"name":"x"},"transactions":[{"to":"0x1","value":"0"}],"data":{"id":{"meta":{"name":"y"},"transactions":[]}}}`
	doc, err := parse([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, KindBatch, Classify(doc))

	imp, s, _ := newTestImporter(t)
	res, err := imp.ImportBytes(context.Background(), []byte(in))
	require.NoError(t, err)
	assert.Equal(t, KindBatch, res.Kind)
	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImportParseFailure(t *testing.T) {
	imp, _, rec := newTestImporter(t)
	for _, in := range []string{``, `{`, `{"a":1} trailing`, `not json`} {
		_, err := imp.ImportBytes(context.Background(), []byte(in))
		assert.ErrorIs(t, err, ErrParse, in)
	}
	assert.Empty(t, rec.Events)
}

func TestImportSingleBatch(t *testing.T) {
	imp, _, rec := newTestImporter(t)
	res, err := imp.Import(context.Background(), strings.NewReader(singleBatch))
	require.NoError(t, err)
	assert.Equal(t, KindBatch, res.Kind)
	require.NotNil(t, res.Batch)
	assert.Equal(t, "Payroll", res.Batch.Meta.Name)
	assert.Equal(t, int64(1690000000000), res.Batch.CreatedAt)
	require.Len(t, res.Batch.Transactions, 3)
	for i, tx := range res.Batch.Transactions {
		assert.Equal(t, fmt.Sprintf("0x%d", i+1), tx.To)
	}
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, rec.Count(telemetry.EventImported))
}

func TestImportSingleBatchRequiresName(t *testing.T) {
	imp, _, _ := newTestImporter(t)
	_, err := imp.ImportBytes(context.Background(), []byte(`{"meta":{"description":"x"},"transactions":[]}`))
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = imp.ImportBytes(context.Background(), []byte(`{"meta":{"name":"x"},"transactions":"yes"}`))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestImportSingleBatchWarnings(t *testing.T) {
	imp, _, _ := newTestImporter(t)
	b := schema.BatchFile{
		Version:      "2.0.0",
		ChainID:      "1",
		Meta:         schema.BatchFileMeta{Name: "x", Checksum: "0xbad"},
		Transactions: []schema.BatchTransaction{{To: "0x1", Value: "0"}},
	}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	res, err := imp.ImportBytes(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "unsupported batch schema version")
	assert.Contains(t, res.Warnings[1], "checksum")

	b.Version = "1.0"
	b.Meta.Checksum = ""
	sum, err := checksum.Calculate(&b)
	require.NoError(t, err)
	b.Meta.Checksum = sum
	raw, err = json.Marshal(b)
	require.NoError(t, err)
	res, err = imp.ImportBytes(context.Background(), raw)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
}

func TestImportDeposits(t *testing.T) {
	imp, _, rec := newTestImporter(t)
	res, err := imp.ImportBytes(context.Background(), []byte(depositFile))
	require.NoError(t, err)
	assert.Equal(t, KindLegacy, res.Kind)
	b := res.Batch
	require.NotNil(t, b)
	require.Len(t, b.Transactions, 1)

	tx := b.Transactions[0]
	values, err := json.Marshal(tx.ContractInputsValues)
	require.NoError(t, err)
	assert.Equal(t,
		`{"pubkey":"0xaa","withdrawal_credentials":"0xbb","signature":"0xcc","deposit_data_root":"0xdd","hidden":false,"locked":false}`,
		string(values))
	assert.Equal(t, DepositContractAddress, tx.To)
	assert.Equal(t, "32000000000000000000", tx.Value)
	assert.Empty(t, tx.Data)
	require.NotNil(t, tx.ContractMethod)
	assert.Equal(t, "deposit", tx.ContractMethod.Name)
	assert.True(t, tx.ContractMethod.Payable)
	require.Len(t, tx.ContractMethod.Inputs, 4)
	assert.Equal(t, "bytes32", tx.ContractMethod.Inputs[3].Type)

	assert.Equal(t, "1.0.0", b.Version)
	assert.Equal(t, "5", b.ChainID)
	assert.Equal(t, fixedNow.UnixMilli(), b.CreatedAt)
	assert.Equal(t, "Transactions Batch", b.Meta.Name)
	assert.Equal(t, "1.14.1", b.Meta.TxBuilderVersion)
	assert.Equal(t, PlaceholderChecksum, b.Meta.Checksum)
	assert.Equal(t, 1, rec.Count(telemetry.EventImported))
}

func TestImportDepositsManyKeepsOrder(t *testing.T) {
	var entries []string
	for i := 0; i < 20; i++ {
		entries = append(entries, fmt.Sprintf(
			`{"pubkey":"%02x","withdrawal_credentials":"0xbb","signature":"cc","deposit_data_root":"dd"}`, i))
	}
	imp, _, _ := newTestImporter(t)
	res, err := imp.ImportBytes(context.Background(), []byte("["+strings.Join(entries, ",")+"]"))
	require.NoError(t, err)
	require.Len(t, res.Batch.Transactions, 20)
	for i, tx := range res.Batch.Transactions {
		assert.Equal(t, DepositContractAddress, tx.To)
		assert.Equal(t, DepositAmount, tx.Value)
		assert.Equal(t, fmt.Sprintf("0x%02x", i), tx.ContractInputsValues.String("pubkey"))
		// already prefixed values are not prefixed twice
		assert.Equal(t, "0xbb", tx.ContractInputsValues.String("withdrawal_credentials"))
		// absent flags are left out
		assert.Equal(t, []string{"pubkey", "withdrawal_credentials", "signature", "deposit_data_root"},
			tx.ContractInputsValues.Names())
	}
	assert.NotSame(t, res.Batch.Transactions[0].ContractMethod, res.Batch.Transactions[1].ContractMethod)
}

func TestImportDepositsComputedChecksum(t *testing.T) {
	d := DefaultLegacyDefaults()
	d.ComputeChecksum = true
	d.ChainID = "1"
	imp, _, _ := newTestImporter(t, WithLegacyDefaults(d))
	res, err := imp.ImportBytes(context.Background(), []byte(depositFile))
	require.NoError(t, err)
	assert.Equal(t, "1", res.Batch.ChainID)
	assert.NotEqual(t, PlaceholderChecksum, res.Batch.Meta.Checksum)

	raw, err := json.Marshal(res.Batch)
	require.NoError(t, err)
	ok, err := checksum.Validate(raw)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestImportDepositsWrongTypes(t *testing.T) {
	imp, _, _ := newTestImporter(t)
	_, err := imp.ImportBytes(context.Background(),
		[]byte(`[{"pubkey":1,"withdrawal_credentials":"bb","signature":"cc","deposit_data_root":"dd"}]`))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func bulkEnvelope(t *testing.T, n int) ([]byte, map[string]*schema.BatchFile) {
	t.Helper()
	want := map[string]*schema.BatchFile{}
	data := map[string]*schema.BatchFile{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%03d", i)
		b := &schema.BatchFile{
			Version:      "1.0",
			ChainID:      "1",
			CreatedAt:    int64(i),
			Meta:         schema.BatchFileMeta{Name: fmt.Sprintf("batch %d", i)},
			Transactions: []schema.BatchTransaction{{To: "0x1", Value: fmt.Sprint(i)}},
		}
		want[id] = b
		data[id] = b
	}
	raw, err := json.Marshal(map[string]interface{}{"data": data})
	require.NoError(t, err)
	return raw, want
}

func TestImportBulk(t *testing.T) {
	ctx := context.Background()
	raw, want := bulkEnvelope(t, 40)
	imp, s, rec := newTestImporter(t, WithConcurrency(4))

	res, err := imp.ImportBytes(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, KindBulk, res.Kind)
	assert.Nil(t, res.Batch)
	assert.Len(t, res.Imported, 40)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "id-000", res.Imported[0])

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, all)
	assert.Equal(t, 0, rec.Count(telemetry.EventImported))
}

func TestImportGarbageStoresNothing(t *testing.T) {
	ctx := context.Background()
	imp, s, _ := newTestImporter(t)
	res, err := imp.ImportBytes(ctx, []byte(`{"foo": 1}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnrecognized, res.Kind)
	assert.Nil(t, res.Batch)
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// flakyWriter fails for the configured ids.
type flakyWriter struct {
	mu     sync.Mutex
	fail   map[string]bool
	writes map[string]*schema.BatchFile
}

func (f *flakyWriter) Update(_ context.Context, id string, b *schema.BatchFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return errors.New("write refused")
	}
	f.writes[id] = b
	return nil
}

func TestImportBulkPartialFailure(t *testing.T) {
	raw := []byte(`{"data":{
		"ok-1": {"version":"1.0","chainId":"1","createdAt":1,"meta":{"name":"a"},"transactions":[]},
		"bad-write": {"version":"1.0","chainId":"1","createdAt":1,"meta":{"name":"b"},"transactions":[]},
		"bad-shape": {"version":"1.0","meta":{"name":"c"},"transactions":"nope"},
		"ok-2": {"version":"1.0","chainId":"1","createdAt":2,"meta":{"name":"d"},"transactions":[]}
	}}`)
	w := &flakyWriter{fail: map[string]bool{"bad-write": true}, writes: map[string]*schema.BatchFile{}}
	imp := New(w, nil)
	res, err := imp.ImportBytes(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok-1", "ok-2"}, res.Imported)
	require.Len(t, res.Failed, 2)
	assert.ErrorIs(t, res.Failed["bad-shape"], ErrInvalidBatch)
	assert.EqualError(t, res.Failed["bad-write"], "write refused")
	assert.Len(t, w.writes, 2)
	assert.Len(t, res.FailedReasons(), 2)
}

func TestImportBulkMissingNameFails(t *testing.T) {
	imp, _, _ := newTestImporter(t)
	res, err := imp.ImportBytes(context.Background(), []byte(`{"data":{"x":{"meta":{},"transactions":[]},"y":null}}`))
	require.NoError(t, err)
	assert.Empty(t, res.Imported)
	assert.ErrorIs(t, res.Failed["x"], schema.ErrMissingName)
	assert.ErrorIs(t, res.Failed["y"], schema.ErrMissingName)
}

func TestImportBulkMixedFailures(t *testing.T) {
	const n = 2000
	var sb strings.Builder
	sb.WriteString(`{"data":{`)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		switch i % 3 {
		case 0:
			fmt.Fprintf(&sb, `"bad-%04d":5`, i)
		case 1:
			fmt.Fprintf(&sb, `"noname-%04d":{"meta":{}}`, i)
		default:
			fmt.Fprintf(&sb, `"ok-%04d":{"meta":{"name":"b%d"},"transactions":[]}`, i, i)
		}
	}
	sb.WriteString(`}}`)

	imp, s, _ := newTestImporter(t, WithConcurrency(16))
	res, err := imp.ImportBytes(context.Background(), []byte(sb.String()))
	require.NoError(t, err)
	require.Len(t, res.Failed, n-n/3)
	require.Len(t, res.Imported, n/3)
	for id, ferr := range res.Failed {
		if strings.HasPrefix(id, "bad-") {
			assert.ErrorIs(t, ferr, ErrInvalidBatch, id)
		} else {
			assert.ErrorIs(t, ferr, schema.ErrMissingName, id)
		}
	}
	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, n/3)
}

func TestImportTooLarge(t *testing.T) {
	imp, _, _ := newTestImporter(t, WithMaxBytes(16))
	_, err := imp.Import(context.Background(), strings.NewReader(singleBatch))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestImportURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/batch.json":
			if r.Header.Get("Authorization") != "Bearer secret" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(singleBatch))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	imp, _, _ := newTestImporter(t, WithHTTPClient(srv.Client()))
	res, err := imp.ImportURL(context.Background(), srv.URL+"/batch.json", "secret")
	require.NoError(t, err)
	assert.Equal(t, KindBatch, res.Kind)

	_, err = imp.ImportURL(context.Background(), srv.URL+"/batch.json", "")
	assert.Error(t, err)
	_, err = imp.ImportURL(context.Background(), srv.URL+"/missing", "secret")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "batch", KindBatch.String())
	assert.Equal(t, "legacy", KindLegacy.String())
	assert.Equal(t, "bulk", KindBulk.String())
	assert.Equal(t, "unrecognized", Kind(99).String())
	out, err := json.Marshal(&Result{Kind: KindBulk, Imported: []string{"a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"bulk","imported":["a"]}`, string(out))
}
