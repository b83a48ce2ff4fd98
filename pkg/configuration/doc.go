// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package configuration holds the active connector configuration.

A [Container] owns the pair of configuration model and identity material.
The pair is published as one immutable [Snapshot] behind an atomic pointer,
so readers observe either the old or the new pair, never a mix.

# Hot Update

[Container.Update] rebuilds the identity from the new model using the
passwords and alias the container was created with. The snapshot is swapped
only when the identity loads and every registered [Listener] accepts the new
snapshot. Otherwise the previous snapshot stays in place and an
[*UpdateError] is returned.

	container, err := configuration.New(model, configuration.Config{
		Credentials: creds,
	})
	container.Subscribe(httpClients)

	if err := container.Update(ctx, newModel); err != nil {
		// previous configuration keeps serving
	}

Listeners run synchronously, in registration order, before Update returns.
*/
package configuration
