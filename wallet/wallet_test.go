package wallet

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tarrago/dwp/lib/block/types"
	"github.com/tarrago/dwp/lib/hdkey"
	"github.com/tarrago/dwp/lib/store"
	"github.com/tarrago/dwp/lib/vault"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testEncKey   = "0123456789abcdef0123456789abcdef"
	testURL      = "http://localhost:3037"
)

// fakeDB is an in-memory store.DB used to test the API without a live database.
type fakeDB struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*store.User
	byAddr map[string]int64
	byName map[string]int64
	txs    map[string]bool
	cursor map[string]uint64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:  map[int64]*store.User{},
		byAddr: map[string]int64{},
		byName: map[string]int64{},
		txs:    map[string]bool{},
		cursor: map[string]uint64{},
	}
}

func (f *fakeDB) CreateUser(username, passHash string, assign store.AssignFunc) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byName[username]; ok {
		return store.User{}, store.ErrDupUsername
	}

	f.nextID++
	id := f.nextID

	address, encKey, err := assign(id)
	if err != nil {
		f.nextID--

		return store.User{}, err
	}

	u := &store.User{ID: id, Username: username, Address: address, EncKey: encKey, Balance: "0"}
	f.users[id] = u
	f.byAddr[address] = id
	f.byName[username] = id

	return *u, nil
}

func (f *fakeDB) UserByAddress(address string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byAddr[address]
	if !ok {
		return store.User{}, store.ErrAddrNotFound
	}

	return *f.users[id], nil
}

func (f *fakeDB) WatchAddresses() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	addrs := make([]string, 0, len(f.byAddr))
	for a := range f.byAddr {
		addrs = append(addrs, a)
	}

	return addrs, nil
}

func (f *fakeDB) Credit(address, amount, txHash string) (store.Transfer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byAddr[address]
	if !ok {
		return store.Transfer{}, false, store.ErrAddrNotFound
	}

	u := f.users[id]

	key := u.Username + ":" + txHash
	if txHash != "" && f.txs[key] {
		return store.Transfer{}, false, nil
	}

	f.txs[key] = true

	cur, _ := new(big.Rat).SetString(u.Balance)
	add, _ := new(big.Rat).SetString(amount)
	cur.Add(cur, add)
	u.Balance = strings.TrimSuffix(strings.TrimRight(cur.FloatString(18), "0"), ".")

	return store.Transfer{UserID: id, TxHash: txHash, Amount: amount, Kind: store.KindDeposit, TS: time.Now()}, true, nil
}

func (f *fakeDB) LoadCursor(net string) (uint64, error) {
	return f.cursor[net], nil
}

func (f *fakeDB) SaveCursor(net string, height uint64) error {
	f.cursor[net] = height

	return nil
}

// fakeChain serves a fixed on-chain balance.
type fakeChain struct{}

func (f *fakeChain) MaxBlocks() int { return 8 }
func (f *fakeChain) AvgBlock() int  { return 12 }
func (f *fakeChain) Close()         {}

func (f *fakeChain) Balance(account string, bal *big.Int) error {
	bal.SetInt64(1615796230433485760)

	return nil
}

func (f *fakeChain) GetBlock(block uint64, full bool, response interface{}) error {
	return types.ErrNoBlock
}

func (f *fakeChain) DecodeBlock(b interface{}) (types.Block, error) {
	return types.Block{}, nil
}

func (f *fakeChain) DecodeTxs(t interface{}) ([]types.Trans, error) {
	return nil, nil
}

func TestAPI(t *testing.T) {
	kd, err := hdkey.New(testMnemonic)
	if err != nil {
		t.Fatalf("Error creating deriver:%e", err)
	}

	v, err := vault.New(testEncKey)
	if err != nil {
		t.Fatalf("Error creating vault:%e", err)
	}

	fdb := newFakeDB()

	// set up server for API
	w := &Wallet{dbtype: "fake", db: fdb, net: "sepolia", bc: &fakeChain{}, hd: kd, vault: v}
	go w.Init("", "3037", "", "", "")
	time.Sleep(200 * time.Millisecond) // let the server come up
	defer w.Stop()

	// signup with missing fields is rejected
	status, body := post(t, testURL+"/signup", map[string]string{"username": "alice"})
	if status != http.StatusBadRequest {
		t.Errorf("[signup_missing] StatusCode:%d expected:%d body:%s", status, http.StatusBadRequest, body)
	}

	// signup provisions a deposit address
	status, body = post(t, testURL+"/signup", map[string]string{"username": "alice", "password": "secret"})
	if status != http.StatusOK {
		t.Fatalf("[signup_alice] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	var alice signupRes
	if err = json.Unmarshal(body, &alice); err != nil {
		t.Fatalf("[signup_alice] Error unmarshaling body:%s error:%s", body, err)
	}

	if alice.ID != 1 || alice.Username != "alice" {
		t.Errorf("[signup_alice] Response:%+v expected id:1 username:alice", alice)
	}

	if len(alice.DepositAddress) != 42 || !strings.HasPrefix(alice.DepositAddress, "0x") ||
		alice.DepositAddress != strings.ToLower(alice.DepositAddress) {
		t.Errorf("[signup_alice] Deposit address %s is not canonical", alice.DepositAddress)
	}

	// the assigned key is stored encrypted, never in plaintext
	u, err := fdb.UserByAddress(alice.DepositAddress)
	if err != nil || !strings.Contains(u.EncKey, ":") {
		t.Errorf("[signup_alice] Stored key %s is not an encrypted blob, err:%e", u.EncKey, err)
	}

	// a taken username is rejected
	status, body = post(t, testURL+"/signup", map[string]string{"username": "alice", "password": "other"})
	if status != http.StatusBadRequest {
		t.Errorf("[signup_dup] StatusCode:%d expected:%d body:%s", status, http.StatusBadRequest, body)
	}

	// a second user gets a different address
	status, body = post(t, testURL+"/signup", map[string]string{"username": "bob", "password": "secret"})
	if status != http.StatusOK {
		t.Fatalf("[signup_bob] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	var bob signupRes
	if err = json.Unmarshal(body, &bob); err != nil {
		t.Fatalf("[signup_bob] Error unmarshaling body:%s error:%s", body, err)
	}

	if bob.ID != 2 || bob.DepositAddress == alice.DepositAddress {
		t.Errorf("[signup_bob] Response:%+v collides with %+v", bob, alice)
	}

	// the watch-set contains both deposit addresses
	status, body = get(t, testURL+"/watch-addresses")
	if status != http.StatusOK {
		t.Fatalf("[watch] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	var watch watchAddrRes
	if err = json.Unmarshal(body, &watch); err != nil {
		t.Fatalf("[watch] Error unmarshaling body:%s error:%s", body, err)
	}

	if len(watch.Addresses) != 2 {
		t.Errorf("[watch] Addresses:%v expected 2 entries", watch.Addresses)
	}

	// credit validation
	creditCases := []struct {
		name   string
		req    map[string]interface{}
		status int
	}{
		{"bad_address", map[string]interface{}{"address": "nothex", "amount": "1"}, http.StatusBadRequest},
		{"missing_amount", map[string]interface{}{"address": alice.DepositAddress}, http.StatusBadRequest},
		{"zero_amount", map[string]interface{}{"address": alice.DepositAddress, "amount": "0"}, http.StatusBadRequest},
		{"negative_amount", map[string]interface{}{"address": alice.DepositAddress, "amount": "-1"}, http.StatusBadRequest},
		{"not_a_number", map[string]interface{}{"address": alice.DepositAddress, "amount": "one"}, http.StatusBadRequest},
		{"unknown_address", map[string]interface{}{"address": "0xcba75F167B03e34B8a572c50273C082401b073Ed", "amount": "1"}, http.StatusNotFound},
	}

	for _, c := range creditCases {
		if status, body = post(t, testURL+"/credit", c.req); status != c.status {
			t.Errorf("[credit_%s] StatusCode:%d expected:%d body:%s", c.name, status, c.status, body)
		}
	}

	// a confirmed deposit is credited once
	dep := map[string]interface{}{"address": alice.DepositAddress, "amount": "0.5", "txHash": "0xaaa1"}

	status, body = post(t, testURL+"/credit", dep)
	if status != http.StatusOK {
		t.Fatalf("[credit] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	// replaying the same transaction is a successful no-op
	status, body = post(t, testURL+"/credit", dep)
	if status != http.StatusOK {
		t.Fatalf("[credit_replay] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	var rep msgRes
	if err = json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("[credit_replay] Error unmarshaling body:%s error:%s", body, err)
	}

	if rep.Message != "Transaction already credited" {
		t.Errorf("[credit_replay] Message:%s expected already credited", rep.Message)
	}

	// a numeric JSON amount is accepted too
	status, body = post(t, testURL+"/credit",
		map[string]interface{}{"address": alice.DepositAddress, "amount": 0.25, "txHash": "0xaaa2"})
	if status != http.StatusOK {
		t.Fatalf("[credit_number] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	// the balance endpoint replies the on-chain and ledger balances
	status, body = get(t, testURL+"/address/"+alice.DepositAddress)
	if status != http.StatusOK {
		t.Fatalf("[balance] StatusCode:%d expected:%d body:%s", status, http.StatusOK, body)
	}

	var bal addrBalance
	if err = json.Unmarshal(body, &bal); err != nil {
		t.Fatalf("[balance] Error unmarshaling body:%s error:%s", body, err)
	}

	if bal.Net != "sepolia" || bal.Bal != "1615796230433485760" || bal.Ledger != "0.75" {
		t.Errorf("[balance] Response:%+v expected net:sepolia bal:1615796230433485760 ledger:0.75", bal)
	}
}

// post places a JSON POST request on uri and returns the status code and raw body.
func post(t *testing.T, uri string, obj interface{}) (int, []byte) {
	t.Helper()

	pl, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Error marshaling request:%e", err)
	}

	resp, err := http.Post(uri, "application/json;charset=utf8", bytes.NewBuffer(pl))
	if err != nil {
		t.Fatalf("Error in request to %s:%e", uri, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	return resp.StatusCode, buf.Bytes()
}

// get places a GET request on uri and returns the status code and raw body.
func get(t *testing.T, uri string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(uri)
	if err != nil {
		t.Fatalf("Error in request to %s:%e", uri, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	return resp.StatusCode, buf.Bytes()
}
