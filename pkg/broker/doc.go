// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package broker announces the connector and its resources to IDS brokers.

Every message carries a freshly obtained DAT and the connector
self-description or resource as payload:

	svc, err := broker.New(broker.Config{
		Models: container,
		Tokens: tokenProvider,
		Sender: transport.NewHTTPSClient(clients, ""),
	})
	reply, err := svc.UpdateSelfDescription(ctx, "https://broker.example.com/infrastructure")

[Service.BroadcastSelfDescription] sends one update to many brokers
concurrently. A failing broker does not affect the others; only successful
replies are returned.
*/
package broker
