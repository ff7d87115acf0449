package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/devicehub/connection"
	"github.com/relabs-tech/devicehub/logger"
	"github.com/relabs-tech/devicehub/sas"
)

// eventsPathTemplate is a wire contract with the ingestion endpoint,
// including the pinned api-version.
const eventsPathTemplate = "/devices/%s/messages/events?api-version=2018-06-30"

// Config describes a device client. It is immutable once passed to New.
type Config struct {
	// ConnectionString identifies the device. Mandatory, format
	// connection.ExpectedFormat.
	ConnectionString string
	// Expiry is the lifetime of the shared access token. Defaults to
	// one hour.
	Expiry time.Duration
	// PolicyName is the shared access policy to sign with. Devices
	// normally sign with their own key and leave this empty.
	PolicyName string
	// HTTPClient overrides the outbound HTTP client, including its
	// timeouts and TLS settings. Optional.
	HTTPClient *http.Client
	// Router makes the client talk directly to the given mux router
	// instead of the network. The tool of choice for unit tests.
	Router *mux.Router
	// RefreshBefore regenerates the token when a send happens within
	// this duration of its expiry. Zero disables refresh; the token
	// then lives exactly as long as Expiry and later sends are
	// rejected by the service.
	RefreshBefore time.Duration
	// SchemaJSON optionally holds a JSON schema every outbound payload
	// must validate against. A violation fails the send locally;
	// nothing goes on the wire.
	SchemaJSON string
}

// Client submits device-to-cloud telemetry for one registered device.
// It is safe for concurrent use.
type Client struct {
	descriptor connection.Descriptor
	config     Config
	httpClient *http.Client
	baseURL    string
	schema     *gojsonschema.Schema

	mutex sync.Mutex // guards token when RefreshBefore is set
	token sas.Token
}

// New validates the configuration and returns a ready client. There is
// no partially constructed client: a malformed connection string or
// shared access key fails here and nothing is ever sent.
func New(config Config) (*Client, error) {
	descriptor, err := connection.Parse(config.ConnectionString)
	if err != nil {
		return nil, err
	}
	if config.Expiry == 0 {
		config.Expiry = time.Hour
	}
	token, err := sas.Generate(descriptor.HostName, descriptor.SharedAccessKey,
		config.PolicyName, config.Expiry, time.Now())
	if err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	c := &Client{
		descriptor: descriptor,
		config:     config,
		httpClient: httpClient,
		baseURL:    "https://" + descriptor.HostName,
		token:      token,
	}
	if len(config.SchemaJSON) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(config.SchemaJSON))
		if err != nil {
			return nil, fmt.Errorf("payload schema: %w", err)
		}
		c.schema = schema
	}
	return c, nil
}

// DeviceID returns the identity the client acts as.
func (c *Client) DeviceID() string {
	return c.descriptor.DeviceID
}

// Send submits a single telemetry payload. It blocks until the service
// responds or the transport fails.
//
// A 204 response yields Outcome{Count: 1}. Any other status yields a
// *ServiceError. Transport failures are returned unchanged.
func (c *Client) Send(ctx context.Context, payload interface{}) (Outcome, error) {
	if err := c.validate(payload); err != nil {
		return Outcome{}, err
	}
	env, cid := buildSingle(payload)
	return c.post(ctx, env, contentTypeSingle, 1, cid)
}

// SendBatch submits an ordered sequence of payloads in one request.
// An empty batch is a valid request; the service accepts it with a
// count of zero.
func (c *Client) SendBatch(ctx context.Context, payloads []interface{}) (Outcome, error) {
	for _, payload := range payloads {
		if err := c.validate(payload); err != nil {
			return Outcome{}, err
		}
	}
	batch, cid, err := buildBatch(payloads)
	if err != nil {
		return Outcome{}, err
	}
	return c.post(ctx, batch, contentTypeBatch, len(payloads), cid)
}

func (c *Client) post(ctx context.Context, body interface{}, contentType string,
	messageCount int, correlationID string) (Outcome, error) {

	ctx, rlog := logger.ContextWithCorrelation(ctx, correlationID)

	j, err := json.Marshal(body)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal telemetry: %w", err)
	}
	path := fmt.Sprintf(eventsPathTemplate, c.descriptor.DeviceID)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(j))
	if err != nil {
		return Outcome{}, err
	}
	r.Header.Set("Authorization", c.currentToken().Value)
	r.Header.Set("Content-Type", contentType)

	var res *http.Response
	if c.config.Router != nil {
		rec := httptest.NewRecorder()
		c.config.Router.ServeHTTP(rec, r)
		res = rec.Result()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return Outcome{}, err
		}
		defer res.Body.Close()
		io.Copy(io.Discard, res.Body)
	}

	if res.StatusCode == http.StatusNoContent {
		rlog.Debugf("service accepted %d message(s)", messageCount)
		return Outcome{Count: messageCount}, nil
	}
	serviceError := &ServiceError{
		Code:        strconv.Itoa(res.StatusCode),
		Description: lookupStatus(res.StatusCode),
	}
	rlog.WithError(serviceError).Error("telemetry rejected")
	return Outcome{}, serviceError
}

// currentToken returns the cached token, regenerating it first when
// refresh is enabled and the token is about to expire. Regeneration
// cannot fail: the key was already validated at construction.
func (c *Client) currentToken() sas.Token {
	if c.config.RefreshBefore == 0 {
		return c.token
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.token.Expired(time.Now(), c.config.RefreshBefore) {
		token, err := sas.Generate(c.descriptor.HostName, c.descriptor.SharedAccessKey,
			c.config.PolicyName, c.config.Expiry, time.Now())
		if err == nil {
			c.token = token
		}
	}
	return c.token
}

func (c *Client) validate(payload interface{}) error {
	if c.schema == nil {
		return nil
	}
	result, err := c.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("payload validation: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("payload does not match schema: %s", result.Errors()[0])
	}
	return nil
}
