package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"home-controller/internal/domain"
)

const maxBodySize = 4 << 20

// Client talks to the device registry and command interpreter. Requests are never
// retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// SecureContext reports whether recording would be allowed from this origin: https, or
// any scheme on a loopback host.
func SecureContext(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type Status struct {
	Status           string   `json:"status"`
	DevicesCount     int      `json:"devices_count"`
	AvailableDevices []string `json:"available_devices"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	code, err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status)
	if err != nil {
		return Status{}, fmt.Errorf("getting status: %w", err)
	}
	if !ok(code) {
		return Status{}, rejected(code, "")
	}
	return status, nil
}

// Devices accepts both the map form (id -> attributes) and the list form
// ([{id, ...}]) of GET /api/devices.
func (c *Client) Devices(ctx context.Context) ([]domain.DeviceRecord, error) {
	var raw json.RawMessage
	code, err := c.doJSON(ctx, http.MethodGet, "/api/devices", nil, &raw)
	if err != nil {
		return nil, fmt.Errorf("getting devices: %w", err)
	}
	if !ok(code) {
		return nil, rejected(code, "")
	}
	return decodeDevices(raw)
}

func decodeDevices(raw json.RawMessage) ([]domain.DeviceRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []domain.Attributes
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: decoding device list: %w", domain.ErrMalformedResponse, err)
		}
		records, err := domain.RecordsFromList(list)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
		}
		return records, nil
	}

	var m map[string]domain.Attributes
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding device map: %w", domain.ErrMalformedResponse, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: no devices", domain.ErrMalformedResponse)
	}
	return domain.RecordsFromMap(m), nil
}

type updateResponse struct {
	Success bool              `json:"success"`
	Device  string            `json:"device"`
	State   domain.Attributes `json:"state"`
	Error   string            `json:"error"`
}

func (c *Client) UpdateDevice(ctx context.Context, id string, attrs domain.Attributes) (domain.UpdateResult, error) {
	var resp updateResponse
	code, err := c.doJSON(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id), attrs, &resp)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("updating device: %w", err)
	}
	if !ok(code) && resp.Success {
		return domain.UpdateResult{}, rejected(code, "")
	}
	return domain.UpdateResult{Success: resp.Success, State: resp.State, Error: resp.Error}, nil
}

type voiceRequest struct {
	Command string `json:"command"`
}

type voiceResponse struct {
	Success  bool            `json:"success"`
	Response string          `json:"response"`
	Devices  json.RawMessage `json:"devices"`
	Error    string          `json:"error"`
}

func (c *Client) VoiceCommand(ctx context.Context, transcript string) (domain.VoiceResult, error) {
	var resp voiceResponse
	code, err := c.doJSON(ctx, http.MethodPost, "/api/voice-command", voiceRequest{Command: transcript}, &resp)
	if err != nil {
		return domain.VoiceResult{}, fmt.Errorf("sending voice command: %w", err)
	}
	if !ok(code) && resp.Success {
		return domain.VoiceResult{}, rejected(code, "")
	}

	result := domain.VoiceResult{Success: resp.Success, Response: resp.Response, Error: resp.Error}
	if !resp.Success {
		return result, nil
	}
	if result.Devices, err = decodeDevices(resp.Devices); err != nil {
		return domain.VoiceResult{}, fmt.Errorf("sending voice command: %w", err)
	}
	return result, nil
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (c *Client) TextCommand(ctx context.Context, text string) (string, error) {
	var resp textResponse
	code, err := c.doJSON(ctx, http.MethodPost, "/api/text_command", textRequest{Text: text}, &resp)
	if err != nil {
		return "", fmt.Errorf("sending text command: %w", err)
	}
	if !ok(code) || resp.Error != "" {
		return "", rejected(code, resp.Error)
	}
	return resp.Response, nil
}

// SpeechToAction uploads a clip as multipart field "audio" and returns the JSON body,
// whatever its status code. A body that is not JSON yields domain.ErrMalformedResponse.
func (c *Client) SpeechToAction(ctx context.Context, clip domain.AudioClip) (json.RawMessage, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, clip.Filename))
	contentType := clip.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err = part.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("writing audio: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/speech_to_action", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, respBody, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("uploading audio: %w", err)
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("%w: body %.64q", domain.ErrMalformedResponse, respBody)
	}
	return json.RawMessage(respBody), nil
}

type scanResponse struct {
	Devices []domain.BluetoothCandidate `json:"devices"`
	Error   string                      `json:"error"`
}

func (c *Client) ScanBluetooth(ctx context.Context) ([]domain.BluetoothCandidate, error) {
	var resp scanResponse
	code, err := c.doJSON(ctx, http.MethodGet, "/api/bluetooth/scan", nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("scanning bluetooth: %w", err)
	}
	if !ok(code) {
		return nil, rejected(code, resp.Error)
	}
	return resp.Devices, nil
}

type deviceNameRequest struct {
	DeviceName string `json:"device_name"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) ConnectBluetooth(ctx context.Context, name string) (bool, error) {
	return c.bluetoothCall(ctx, "/api/bluetooth/connect", name)
}

func (c *Client) DisconnectBluetooth(ctx context.Context, name string) (bool, error) {
	return c.bluetoothCall(ctx, "/api/bluetooth/disconnect", name)
}

func (c *Client) bluetoothCall(ctx context.Context, path, name string) (bool, error) {
	var resp successResponse
	code, err := c.doJSON(ctx, http.MethodPost, path, deviceNameRequest{DeviceName: name}, &resp)
	if err != nil {
		return false, fmt.Errorf("calling %s: %w", path, err)
	}
	if !ok(code) && resp.Success {
		return false, rejected(code, "")
	}
	return resp.Success, nil
}

// doJSON sends in as JSON and decodes the reply into out. A non-2xx status is not an
// error by itself; the backend reports failures as {"success": false, "error": ...}
// alongside 4xx/5xx codes. A body that is not JSON becomes ErrServerRejected on a
// failure status and ErrMalformedResponse otherwise.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) (int, error) {
	var bodyReader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	code, respBody, err := c.send(req)
	if err != nil {
		return 0, err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		if !ok(code) {
			return code, rejected(code, strings.TrimSpace(string(respBody)))
		}
		return code, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	return code, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response: %w", domain.ErrTransport, err)
	}
	return resp.StatusCode, body, nil
}

func ok(code int) bool {
	return code >= 200 && code < 300
}

func rejected(code int, msg string) error {
	if msg == "" {
		return fmt.Errorf("%w: status %d", domain.ErrServerRejected, code)
	}
	return fmt.Errorf("%w: status %d: %s", domain.ErrServerRejected, code, msg)
}
