// Package dwp and its sub-packages implement the backend services of a custodial deposit platform: each registered
// user gets a unique deterministic deposit address and incoming transfers are credited to their ledger balance once
// buried under enough confirmations.
/*
dwp provides you with two microservices:

1) a wallet microservice (package wallet) that implements a RESTful API for user signup, deposit-address provisioning
 and balance crediting. On signup the wallet derives the user's key pair from a master mnemonic, encrypts the private
 key at rest and persists the lower-cased deposit address.

2) a watcher microservice (package watcher) that follows the configured blockchain, waits for the configured
 confirmation depth and scans each confirmed block for transfers to any assigned deposit address, crediting the
 recipient through the wallet API.

Architecture

The watcher consumes the wallet's collaborator API: it reads the current watch-set from GET /watch-addresses before
every confirmed block and reports matches with POST /credit. Crediting is atomic (balance increment plus transfer
record in one storage transaction) and idempotent per source transaction hash, so a re-delivered block never credits
twice. After a successful credit the watcher also publishes a deposit event to the message broker (package lib/msg) so
wallet instances can notify their clients in real time.

The wallet's user registry and ledger live behind a database product agnostic layer (package lib/store); the watcher
persists its scan cursor through the same layer so a restart replays every height since the last successfully scanned
block.

A blockchain layer (package lib/block) wraps the JSON-RPC node connections. Several providers can be configured with a
priority and a weight; requests fail over automatically to the next healthy provider when a call errors.

Both services read their configuration from a JSON file overridable with DWP_ environment variables, and refuse to
start on an invalid master mnemonic or a wrong-length encryption key. The microservices can also be monitored via a
Prometheus API by setting the flag "-m" at startup.
*/
package dwp
