package device_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/devicehub/device"
	"github.com/relabs-tech/devicehub/hubsim"
)

const (
	testHost = "unit.hub.example"
	// base64 of "unit test device primary key 0123456789"
	testKey              = "dW5pdCB0ZXN0IGRldmljZSBwcmltYXJ5IGtleSAwMTIzNDU2Nzg5"
	testConnectionString = "HostName=" + testHost + ";DeviceId=thermostat-01;SharedAccessKey=" + testKey
)

func newTestClient(t *testing.T, hub *hubsim.Hub, config device.Config) *device.Client {
	config.ConnectionString = testConnectionString
	config.Router = hub.Router
	client, err := device.New(config)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestSend(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	client := newTestClient(t, hub, device.Config{})

	outcome, err := client.Send(context.Background(),
		map[string]interface{}{"city": "Barcelona", "temperature": 30})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Count)

	singles := hub.Singles()
	require.Len(t, singles, 1)
	assert.False(t, singles[0].Base64Encoded)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(singles[0].Body, &body))
	assert.Equal(t, "Barcelona", body["city"])
	assert.Equal(t, float64(30), body["temperature"])

	properties := singles[0].Properties
	assert.NotEmpty(t, properties["iothub-correlationid"])
	assert.Equal(t, properties["iothub-correlationid"], properties["iothub-messageid"])

	assert.Equal(t, "thermostat-01", hub.LastDevice())
	assert.Equal(t, "thermostat-01", client.DeviceID())
}

func TestSendBatch(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	client := newTestClient(t, hub, device.Config{})

	outcome, err := client.SendBatch(context.Background(), []interface{}{
		map[string]interface{}{"city": "Barcelona", "temperature": 30},
		map[string]interface{}{"city": "Madrid", "temperature": 32},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Count)

	batches := hub.Batches()
	require.Len(t, batches, 1)
	batch := batches[0]
	require.Len(t, batch, 2)

	messageIDs := map[string]bool{}
	for _, message := range batch {
		assert.True(t, message.Base64Encoded)
		assert.Equal(t, batch[0].Properties["iothub-correlationid"],
			message.Properties["iothub-correlationid"])
		messageIDs[message.Properties["iothub-messageid"]] = true
	}
	assert.Len(t, messageIDs, 2)
}

// TestSendBatchEmpty verifies that an empty batch is a valid request
// with a count of zero, not an error
func TestSendBatchEmpty(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	client := newTestClient(t, hub, device.Config{})

	outcome, err := client.SendBatch(context.Background(), []interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Count)

	batches := hub.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 0)
}

func TestSendServiceError(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	client := newTestClient(t, hub, device.Config{})

	hub.ForceStatus(http.StatusUnauthorized)
	_, err := client.Send(context.Background(), map[string]interface{}{"city": "Barcelona"})
	var serviceError *device.ServiceError
	require.ErrorAs(t, err, &serviceError)
	assert.Equal(t, "401", serviceError.Code)
	assert.Contains(t, serviceError.Description, "authorization token")

	// a status outside the table maps to the generic description
	hub.ForceStatus(http.StatusTeapot)
	_, err = client.Send(context.Background(), map[string]interface{}{"city": "Barcelona"})
	require.ErrorAs(t, err, &serviceError)
	assert.Equal(t, "418", serviceError.Code)
	assert.Equal(t, "Unknown error occurred.", serviceError.Description)
}

// TestSendTransportError verifies that a failure below HTTP surfaces
// unchanged, not as a service error
func TestSendTransportError(t *testing.T) {
	client, err := device.New(device.Config{
		ConnectionString: "HostName=127.0.0.1:1;DeviceId=thermostat-01;SharedAccessKey=" + testKey,
		HTTPClient:       &http.Client{Timeout: time.Second},
	})
	require.NoError(t, err)

	_, err = client.Send(context.Background(), map[string]interface{}{"city": "Barcelona"})
	require.Error(t, err)
	var serviceError *device.ServiceError
	assert.False(t, errors.As(err, &serviceError))
}

func TestNewMalformedConnectionString(t *testing.T) {
	_, err := device.New(device.Config{ConnectionString: "HostName=unit.hub.example"})
	if err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestNewBadKey(t *testing.T) {
	_, err := device.New(device.Config{
		ConnectionString: "HostName=unit.hub.example;DeviceId=thermostat-01;SharedAccessKey=not base64!",
	})
	if err == nil {
		t.Fatal("expected crypto error")
	}
}

func TestSchemaValidation(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	client := newTestClient(t, hub, device.Config{
		SchemaJSON: `{
			"type": "object",
			"properties": {"city": {"type": "string"}},
			"required": ["city"]
		}`,
	})

	// a conforming payload goes through
	outcome, err := client.Send(context.Background(), map[string]interface{}{"city": "Barcelona"})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Count)

	// a violating payload fails locally, nothing reaches the hub
	_, err = client.Send(context.Background(), map[string]interface{}{"temperature": 30})
	require.Error(t, err)
	assert.Len(t, hub.Singles(), 1)

	// batches are validated element by element
	_, err = client.SendBatch(context.Background(), []interface{}{
		map[string]interface{}{"city": "Barcelona"},
		map[string]interface{}{"temperature": 30},
	})
	require.Error(t, err)
	assert.Len(t, hub.Batches(), 0)
}

// TestTokenRefresh verifies that with RefreshBefore set the client
// outlives its token, and without it the service starts rejecting sends
// once the construction-time token expires
func TestTokenRefresh(t *testing.T) {
	hub := hubsim.New(testHost, testKey)
	refreshing := newTestClient(t, hub, device.Config{
		Expiry:        2 * time.Second,
		RefreshBefore: time.Second,
	})
	static := newTestClient(t, hub, device.Config{
		Expiry: 2 * time.Second,
	})

	payload := map[string]interface{}{"city": "Barcelona"}
	_, err := refreshing.Send(context.Background(), payload)
	require.NoError(t, err)
	_, err = static.Send(context.Background(), payload)
	require.NoError(t, err)

	time.Sleep(2500 * time.Millisecond)

	_, err = refreshing.Send(context.Background(), payload)
	require.NoError(t, err)

	_, err = static.Send(context.Background(), payload)
	var serviceError *device.ServiceError
	require.ErrorAs(t, err, &serviceError)
	assert.Equal(t, "401", serviceError.Code)
}
