package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/tarrago/dwp/lib/store"
)

// bcryptCost is the work factor applied to user passwords.
const bcryptCost = 12

// Errors returned to client requests.
var (
	ErrBadAddress  = errors.New("invalid address")
	ErrBadAmount   = errors.New("amount must be a positive number")
	ErrBadrequest  = errors.New("bad request")
	ErrMissingCred = errors.New("username and password are required")
	ErrNoAddr      = errors.New("undefined address - missing in uri")
)

// errResponse defines the data structure returned to the client when a request fails.
type errResponse struct {
	Error string `json:"error"`
}

// reply encodes the payload to the client with the given status. Errors are wrapped in an error response.
func reply(rw http.ResponseWriter, status int, payload interface{}, err error) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)

	if err != nil {
		_ = json.NewEncoder(rw).Encode(errResponse{Error: fmt.Sprintf("%s", err)})

		return
	}

	_ = json.NewEncoder(rw).Encode(payload)
}

// homeHandler just replies a welcome message to the client.
func (w *Wallet) homeHandler(rw http.ResponseWriter, r *http.Request) {
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	reply(rw, http.StatusOK, map[string]string{"message": "Hello, this is your deposit wallet!"}, nil)
}

// signupReq carries the client payload for user registration.
type signupReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// signupRes is replied to the client upon successful registration.
type signupRes struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	DepositAddress string `json:"depositAddress"`
}

// signupHandler registers a new user. The password is hashed before storage and a deposit address is derived
// deterministically from the user id, so the same user always maps to the same address. The address private key is
// stored encrypted and never leaves the service.
func (w *Wallet) signupHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusOK

	var res signupRes

	defer func() {
		// log request and reply to requester accordingly
		log.Printf("httpreq from %v %s user:%s err:%e\n", r.RemoteAddr, r.RequestURI, res.Username, err)
		reply(rw, status, res, err)
	}()

	// get request
	var req signupReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding signup request %+v\n", r.Body)

		status = http.StatusBadRequest
		err = ErrBadrequest

		return
	}

	if req.Username == "" || req.Password == "" {
		status = http.StatusBadRequest
		err = ErrMissingCred

		return
	}

	// hash the password
	var hash []byte
	if hash, err = bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost); err != nil {
		status = http.StatusInternalServerError

		return
	}

	// create the user, deriving and sealing the deposit key once the user id is known
	var u store.User

	u, err = w.db.CreateUser(req.Username, string(hash), func(id int64) (string, string, error) {
		key, address, errDrv := w.hd.Derive(id)
		if errDrv != nil {
			return "", "", errDrv
		}

		blob, errEnc := w.vault.Encrypt(key)
		if errEnc != nil {
			return "", "", errEnc
		}

		return strings.ToLower(address), blob, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDupUsername) {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
		}

		return
	}

	res = signupRes{ID: u.ID, Username: u.Username, DepositAddress: u.Address}
}

// watchAddrRes carries the deposit addresses the watcher has to monitor.
type watchAddrRes struct {
	Addresses []string `json:"addresses"`
}

// watchAddrHandler replies the full set of deposit addresses currently assigned to users. The watcher service polls
// this endpoint on every scan tick.
func (w *Wallet) watchAddrHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusOK

	var res watchAddrRes

	defer func() {
		// log request
		log.Printf("httpreq from %v %s addrs:%d err:%e\n", r.RemoteAddr, r.RequestURI, len(res.Addresses), err)
		reply(rw, status, res, err)
	}()

	var addrs []string

	if addrs, err = w.db.WatchAddresses(); err != nil {
		status = http.StatusInternalServerError

		return
	}

	if addrs == nil {
		addrs = []string{} // reply an empty list, not null
	}

	res = watchAddrRes{Addresses: addrs}
}

// creditReq carries a confirmed deposit reported by the watcher. Amount may be sent as a JSON number or string.
type creditReq struct {
	Address string      `json:"address"`
	Amount  interface{} `json:"amount"`
	TxHash  string      `json:"txHash"`
}

// msgRes is a plain message reply.
type msgRes struct {
	Message string `json:"message"`
}

// creditHandler credits a confirmed deposit to the owner of the address. Crediting is idempotent on the transaction
// hash: replaying the same deposit succeeds without changing the balance again.
func (w *Wallet) creditHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusOK

	var res msgRes

	var req creditReq

	defer func() {
		// log request
		log.Printf("httpreq from %v %s addr:%s tx:%s err:%e\n", r.RemoteAddr, r.RequestURI, req.Address, req.TxHash, err)
		reply(rw, status, res, err)
	}()

	// get request, keeping numbers as strings to avoid float precision loss
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	if err = dec.Decode(&req); err != nil {
		log.Printf("Error decoding credit request %+v\n", r.Body)

		status = http.StatusBadRequest
		err = ErrBadrequest

		return
	}

	// validate address
	if req.Address == "" || !common.IsHexAddress(req.Address) {
		status = http.StatusBadRequest
		err = ErrBadAddress

		return
	}

	// validate amount
	var amount string

	switch a := req.Amount.(type) {
	case string:
		amount = a
	case json.Number:
		amount = a.String()
	default:
		status = http.StatusBadRequest
		err = ErrBadAmount

		return
	}

	if v, ok := new(big.Rat).SetString(amount); !ok || v.Sign() <= 0 {
		status = http.StatusBadRequest
		err = ErrBadAmount

		return
	}

	// credit the deposit
	var applied bool

	if _, applied, err = w.db.Credit(strings.ToLower(req.Address), amount, req.TxHash); err != nil {
		if errors.Is(err, store.ErrAddrNotFound) {
			status = http.StatusNotFound
		} else {
			status = http.StatusInternalServerError
		}

		return
	}

	if applied {
		res = msgRes{Message: "Transaction created successfully"}
	} else {
		res = msgRes{Message: "Transaction already credited"}
	}
}

// addrBalance struct used to reply the on-chain balance of an address.
type addrBalance struct {
	Net    string `json:"net"`              // blockchain name
	Bal    string `json:"bal"`              // balance in wei of the address
	Ledger string `json:"ledger,omitempty"` // credited balance in ether, when the address belongs to a user
}

// addrBalHandler replies the on-chain balance of the address requested. When the address is a user deposit address,
// the ledger balance credited so far is included as well.
func (w *Wallet) addrBalHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var status int = http.StatusOK

	var res addrBalance

	defer func() {
		// log request and balance
		log.Printf("httpreq from %v %s bal:%+v err:%e\n", r.RemoteAddr, r.RequestURI, res, err)
		reply(rw, status, res, err)
	}()

	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		status = http.StatusBadRequest
		err = ErrNoAddr

		return
	}

	if !common.IsHexAddress(address) {
		status = http.StatusBadRequest
		err = ErrBadAddress

		return
	}

	var bal *big.Int = new(big.Int)

	if err = w.bc.Balance(address, bal); err != nil {
		status = http.StatusInternalServerError

		log.Printf("error getting balance for %s:%e\n", address, err)

		return
	}

	res = addrBalance{Net: w.net, Bal: bal.String()}

	// include the credited balance for user deposit addresses
	if u, errU := w.db.UserByAddress(strings.ToLower(address)); errU == nil {
		res.Ledger = u.Balance
	} else if !errors.Is(errU, store.ErrAddrNotFound) {
		log.Printf("error getting user for %s:%e\n", address, errU)
	}
}
