package wallet

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for a wallet service. If sslPort, sslCert
// and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (w *Wallet) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", w.homeHandler)
	r.HandleFunc("/signup", w.signupHandler).Methods("POST")            // register a user and assign a deposit address
	r.HandleFunc("/watch-addresses", w.watchAddrHandler).Methods("GET") // get the deposit addresses to monitor
	r.HandleFunc("/credit", w.creditHandler).Methods("POST")            // credit a confirmed deposit to its owner
	r.HandleFunc("/address/{address}", w.addrBalHandler).Methods("GET") // get on-chain address balance
	http.Handle("/", r)

	// setup shutdown channel
	w.sc = make(chan struct{})

	// start http server
	if port != "" {
		w.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = w.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		w.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = w.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-w.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
