/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package distributed provides a tocket.Storage implementation that keeps
// the authoritative bucket state in local memory and synchronizes debits
// across application instances by exchanging UDP datagrams.
//
// The protocol is leaderless and best-effort: there is no consensus and
// no strong-consistency guarantee. Under packet loss or network partition
// peers may temporarily admit more or fewer requests than the nominal
// global limit. It is useful when multiple application instances should
// approximate a shared limit without running an external store.
//
// Every admission decision is made synchronously against the local state;
// on success a notification is handed off to a background task that informs
// the configured peers according to the chosen Strategy. Peers fold received
// debits into their own local counters.
//
//	strategy, err := distributed.NewWhitelistStrategy([]string{"10.0.0.2:7777", "10.0.0.3:7777"})
//	if err != nil {
//		return err
//	}
//	storage, err := distributed.Serve(100, "10.0.0.1:7777", strategy)
//	if err != nil {
//		return err
//	}
//	defer storage.Close()
//	tb := tocket.NewTokenBucket(storage)
package distributed
