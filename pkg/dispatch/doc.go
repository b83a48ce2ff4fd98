// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package dispatch routes inbound IDS messages to type specific handlers.

A [Dispatcher] runs every inbound header through an ordered filter chain and
hands accepted messages to the [Handler] registered for the exact message
type. The token filter always runs first; further filters run in
registration order and the first negative result stops the chain.

Outcomes map to rejection messages as follows:

	filter returned a negative result    idsc:MALFORMED_MESSAGE, filter message as payload
	filter failed or panicked            *PreProcessingError (INTERNAL_RECIPIENT_ERROR, status 500)
	no handler for the message type      idsc:MESSAGE_TYPE_NOT_SUPPORTED
	handler returned an error            idsc:INTERNAL_RECIPIENT_ERROR

Rejection payloads never carry internal error detail. The detail is logged.

# Wire Processing

[Dispatcher.ProcessWire] parses a multipart body, dispatches it and always
returns a two part response:

	resp, err := dispatcher.ProcessWire(ctx, r.Body, r.Header.Get("Content-Type"))
	body, contentType, err := resp.Serialize()
*/
package dispatch
