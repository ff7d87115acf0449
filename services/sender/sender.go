// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/devicehub/device"
	"github.com/relabs-tech/devicehub/logger"
)

// Service holds the configuration for this service
//
// use CONNECTION_STRING="HostName=<host>;DeviceId=<device>;SharedAccessKey=<key>"
type Service struct {
	ConnectionString string `env:"CONNECTION_STRING,required" description:"the device connection string for the ingestion endpoint"`
	ExpirySeconds    int    `env:"TOKEN_EXPIRY_SECONDS,default=3600" description:"lifetime of the shared access token in seconds"`
	PolicyName       string `env:"POLICY_NAME" description:"optional shared access policy name"`
	Batch            bool   `env:"BATCH,default=false" description:"read a JSON array from stdin and send it as one batch"`
	SchemaFile       string `env:"SCHEMA_FILE" description:"optional JSON schema file to validate payloads against"`
}

// sender reads one JSON document from stdin and submits it as
// device-to-cloud telemetry, either as a single message or, with
// BATCH=true, as a batch of the array's elements.
func main() {
	logger.InitLogger(logrus.InfoLevel)
	rlog := logger.Default()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	schemaJSON := ""
	if len(service.SchemaFile) > 0 {
		raw, err := os.ReadFile(service.SchemaFile)
		if err != nil {
			rlog.WithError(err).Fatal("cannot read schema file")
		}
		schemaJSON = string(raw)
	}

	client, err := device.New(device.Config{
		ConnectionString: service.ConnectionString,
		Expiry:           time.Duration(service.ExpirySeconds) * time.Second,
		PolicyName:       service.PolicyName,
		SchemaJSON:       schemaJSON,
	})
	if err != nil {
		rlog.WithError(err).Fatal("cannot create device client")
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		rlog.WithError(err).Fatal("cannot read payload from stdin")
	}

	ctx := context.Background()
	var outcome device.Outcome
	if service.Batch {
		var payloads []interface{}
		if err := json.Unmarshal(raw, &payloads); err != nil {
			rlog.WithError(err).Fatal("payload is not a JSON array")
		}
		outcome, err = client.SendBatch(ctx, payloads)
	} else {
		var payload interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			rlog.WithError(err).Fatal("payload is not valid JSON")
		}
		outcome, err = client.Send(ctx, payload)
	}
	if err != nil {
		rlog.WithError(err).Fatal("telemetry not accepted")
	}
	rlog.Infof("service accepted %d message(s) for device %s", outcome.Count, client.DeviceID())
}
