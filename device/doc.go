// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package device implements the device side of the hub's HTTPS
message-ingestion protocol.

A Client acts as one registered device. It is constructed from a device
connection string, signs a shared access token at construction time and
submits telemetry with Send and SendBatch. Each send is a synchronous
HTTP POST; the client keeps no state between calls beyond the cached
token.

Transport concerns such as timeouts, TLS settings and connection
pooling belong to the http.Client supplied in the configuration.
Retrying is a caller policy: the client classifies failures but never
retries on its own.
*/
package device
