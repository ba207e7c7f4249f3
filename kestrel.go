package main

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelmesh/kestrel/config"
	"github.com/kestrelmesh/kestrel/enclave"
	"github.com/kestrelmesh/kestrel/node"
	"github.com/kestrelmesh/kestrel/party"
	"github.com/kestrelmesh/kestrel/server"
	"github.com/kestrelmesh/kestrel/storage"
	"github.com/kestrelmesh/kestrel/transaction"
	"github.com/kestrelmesh/kestrel/utils"
)

func main() {
	config.InitFlags()
	for _, arg := range os.Args[1:] {
		if strings.HasSuffix(arg, ".conf") {
			if err := config.LoadConfig(arg); err != nil {
				log.Fatal(err)
			}
			break
		}
	}
	config.ParseCommandLine()

	if level := config.GetInt(config.Verbosity); level >= 3 {
		log.SetLevel(log.DebugLevel)
	}

	if generateKeys := config.GetString(config.GenerateKeys); generateKeys != "" {
		if err := enclave.DoKeyGeneration(generateKeys); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}

	workDir := config.GetString(config.WorkDir)

	db, err := storage.Init(filepath.Join(workDir, config.GetString(config.Storage)))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	pubKeyFiles := config.GetStringSlice(config.PublicKeys)
	privKeyFiles := config.GetStringSlice(config.PrivateKeys)
	if len(privKeyFiles) != len(pubKeyFiles) {
		log.Fatal("Private keys provided must have corresponding public keys")
	}

	enc, err := enclave.NewFromFiles(pubKeyFiles, privKeyFiles)
	if err != nil {
		log.Fatal(err)
	}

	advertisedUrl := config.GetString(config.Url)
	peers := config.GetStringSlice(config.OtherNodes)

	exclusions := party.NewExclusionCache(config.GetDuration(config.ExclusionTTL))
	defer exclusions.Close()

	partyStore := party.NewStore(advertisedUrl, exclusions)
	partyService := party.NewService(partyStore, enc, party.ServiceConfig{
		AdvertisedUrl:               advertisedUrl,
		Peers:                       peers,
		AutoDiscoveryDisabled:       config.GetBool(config.DisablePeerDiscovery),
		RemoteKeyValidationDisabled: config.GetBool(config.DisableRemoteKeyValidation),
	})
	partyService.PopulateStore()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := node.NewClient(httpClient)
	publisher := node.NewPublisher(client, partyStore)

	txStore := transaction.NewStore(db)
	resendManager := transaction.NewResendManager(txStore, enc)

	tm := &server.TransactionManager{
		Enclave:    enc,
		Service:    partyService,
		Validator:  party.NewValidator(enc),
		Resend:     resendManager,
		TxStore:    txStore,
		Publisher:  publisher,
		PartyStore: partyStore,
	}
	if !config.GetBool(config.DisableRemoteKeyValidation) {
		tm.DecodeChallenge = client.DecodeChallenge
	}

	poller := party.NewPoller(partyService, client)
	pollInterval := config.GetDuration(config.PartyInfoInterval)
	requester := node.NewRequester(client, partyStore)
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		// catch up on anything missed while this node was down, once the
		// first polling round has had a chance to find the other parties
		catchUp := false
		for range ticker.C {
			poller.Run()
			if !catchUp {
				catchUp = true
				for _, key := range enc.PublicKeys() {
					if err := requester.RequestAll(key); err != nil {
						log.Debugf("Transaction catch-up incomplete: %v", err)
					}
				}
			}
		}
	}()

	handler, err := server.NewHandler(server.TransportREST, tm)
	if err != nil {
		log.Fatal(err)
	}

	port := config.GetInt(config.Port)
	go func() {
		log.Fatal(http.ListenAndServe(":"+strconv.Itoa(port), handler))
	}()
	log.Infof("Listening on port %d, advertised as %s", port, advertisedUrl)

	ipcPath := filepath.Join(workDir, config.GetString(config.Socket))
	ipc, err := utils.CreateIpcSocket(ipcPath)
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(http.Serve(ipc, server.NewIpcHandler(tm)))
}
