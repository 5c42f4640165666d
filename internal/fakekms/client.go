package fakekms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Client implements kmsiface.Client over the fake KMS's JSON-over-HTTP wire
// service. It forwards the request CRC32C fields the caller set and hands
// response CRC32C fields back unchecked, except in GetPublicKey, which
// verifies the PEM checksum itself.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ kmsiface.Client = (*Client)(nil)

// NewClient returns a Client talking to a fake KMS server at baseURL
// (e.g. "http://127.0.0.1:PORT").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

func (c *Client) ListCryptoKeys(ctx context.Context, keyRing string) ([]string, error) {
	var resp listCryptoKeysResponse
	if err := c.call(ctx, "/v1/listCryptoKeys", listCryptoKeysRequest{KeyRing: keyRing}, &resp); err != nil {
		return nil, err
	}
	return resp.CryptoKeys, nil
}

func (c *Client) ListCryptoKeyVersions(ctx context.Context, cryptoKey string) ([]kmsiface.CryptoKeyVersion, error) {
	var resp listCryptoKeyVersionsResponse
	if err := c.call(ctx, "/v1/listCryptoKeyVersions", listCryptoKeyVersionsRequest{CryptoKey: cryptoKey}, &resp); err != nil {
		return nil, err
	}
	out := make([]kmsiface.CryptoKeyVersion, 0, len(resp.Versions))
	for _, v := range resp.Versions {
		out = append(out, kmsiface.CryptoKeyVersion{
			Name:      v.Name,
			Algorithm: v.Algorithm,
			State:     kmsiface.VersionState(v.State),
		})
	}
	return out, nil
}

func (c *Client) GetPublicKey(ctx context.Context, name string) (*kmsiface.PublicKey, error) {
	var resp getPublicKeyResponse
	if err := c.call(ctx, "/v1/getPublicKey", getPublicKeyRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	if kmsiface.CRC32C([]byte(resp.PEM)) != resp.CRC32C {
		return nil, tokenerr.New(tokenerr.DeviceError, "fakekms.Client.GetPublicKey", nil)
	}
	return &kmsiface.PublicKey{PEM: resp.PEM, Algorithm: resp.Algorithm, CRC32C: resp.CRC32C}, nil
}

func (c *Client) AsymmetricSign(ctx context.Context, req *kmsiface.SignRequest) (*kmsiface.SignResponse, error) {
	wireReq := asymmetricSignRequest{
		Name:         req.Name,
		Data:         req.Data,
		DigestCRC32C: req.DigestCRC32C,
		DataCRC32C:   req.DataCRC32C,
	}
	if req.Digest != nil {
		wireReq.Digest = &digestWire{Algorithm: req.Digest.Algorithm, Bytes: req.Digest.Bytes}
	}
	var resp asymmetricSignResponse
	if err := c.call(ctx, "/v1/asymmetricSign", wireReq, &resp); err != nil {
		return nil, err
	}
	return &kmsiface.SignResponse{Signature: resp.Signature, SignatureCRC32C: resp.SignatureCRC32C}, nil
}

func (c *Client) AsymmetricDecrypt(ctx context.Context, req *kmsiface.DecryptRequest) (*kmsiface.DecryptResponse, error) {
	wireReq := asymmetricDecryptRequest{
		Name:             req.Name,
		Ciphertext:       req.Ciphertext,
		CiphertextCRC32C: req.CiphertextCRC32C,
	}
	var resp asymmetricDecryptResponse
	if err := c.call(ctx, "/v1/asymmetricDecrypt", wireReq, &resp); err != nil {
		return nil, err
	}
	return &kmsiface.DecryptResponse{Plaintext: resp.Plaintext, PlaintextCRC32C: resp.PlaintextCRC32C}, nil
}

func (c *Client) call(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fakekms.Client: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("fakekms.Client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenerr.New(tokenerr.DeviceError, "fakekms.Client.call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return tokenerr.New(tokenerr.DeviceError, "fakekms.Client.call", fmt.Errorf("%s: %s", path, errResp.Error))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fakekms.Client: decode response: %w", err)
	}
	return nil
}
