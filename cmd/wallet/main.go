// package main: wallet service
//
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarrago/dwp/lib/block"
	"github.com/tarrago/dwp/lib/config"
	"github.com/tarrago/dwp/lib/hdkey"
	"github.com/tarrago/dwp/lib/msg"
	"github.com/tarrago/dwp/lib/msg/amqp"
	"github.com/tarrago/dwp/lib/store"
	"github.com/tarrago/dwp/lib/store/db"
	"github.com/tarrago/dwp/lib/vault"
	"github.com/tarrago/dwp/wallet"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// load .env if present, then extract configuration
	_ = godotenv.Load()

	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration loaded for net:%s db:%s", conf.Net, conf.DBType)

	// load HD key deriver from the master mnemonic
	var kd *hdkey.Deriver
	if kd, err = hdkey.New(conf.Mnemonic); err != nil {
		panic(err)
	}

	// load the private-key vault
	var v *vault.Vault
	if v, err = vault.New(conf.EncKey); err != nil {
		panic(err)
	}

	// connect to database
	var dbConn store.DB
	log.Printf("Connecting to %s database\n", conf.DBType)
	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	// load blockchain client
	var bc block.Chain
	if bc, err = block.Init(conf.Providers, conf.MaxBlocks); err != nil {
		panic(err)
	}
	log.Print("Blockchain client loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create wallet service
	w := wallet.New(conf.DBType, dbConn, mb, conf.Net, bc, kd, v)

	// consume deposit events published by the watcher
	if err = w.ManageEvents(); err != nil {
		panic(err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		w.Stop()
		block.End(bc)
	}()

	// start the RESTful API server (blocks until shutdown)
	log.Printf("Server: %s", w.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))
}
