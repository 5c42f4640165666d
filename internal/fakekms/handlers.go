package fakekms

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kenneth/kms-token-provider/internal/kmsiface"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/sirupsen/logrus"
)

// Handler exposes Server over JSON-over-HTTP, standing in for the remote
// KMS transport in integration tests.
type Handler struct {
	server *Server
	logger *logrus.Logger
}

// NewHandler wraps server for HTTP serving.
func NewHandler(server *Server, logger *logrus.Logger) *Handler {
	return &Handler{server: server, logger: logger}
}

// RegisterRoutes registers every fake-KMS RPC as a POST route.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/v1/listCryptoKeys", h.handleListCryptoKeys).Methods("POST")
	r.HandleFunc("/v1/listCryptoKeyVersions", h.handleListCryptoKeyVersions).Methods("POST")
	r.HandleFunc("/v1/getPublicKey", h.handleGetPublicKey).Methods("POST")
	r.HandleFunc("/v1/asymmetricSign", h.handleAsymmetricSign).Methods("POST")
	r.HandleFunc("/v1/asymmetricDecrypt", h.handleAsymmetricDecrypt).Methods("POST")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleListCryptoKeys(w http.ResponseWriter, r *http.Request) {
	var req listCryptoKeysRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	keys, err := h.server.ListCryptoKeys(req.KeyRing)
	if err != nil {
		h.writeError(w, r, "listCryptoKeys", err)
		return
	}
	writeJSON(w, http.StatusOK, listCryptoKeysResponse{CryptoKeys: keys})
}

func (h *Handler) handleListCryptoKeyVersions(w http.ResponseWriter, r *http.Request) {
	var req listCryptoKeyVersionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	versions, err := h.server.ListCryptoKeyVersions(req.CryptoKey)
	if err != nil {
		h.writeError(w, r, "listCryptoKeyVersions", err)
		return
	}
	out := make([]versionWire, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionWire{Name: v.Name, Algorithm: v.Algorithm, State: int(v.State)})
	}
	writeJSON(w, http.StatusOK, listCryptoKeyVersionsResponse{Versions: out})
}

func (h *Handler) handleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	var req getPublicKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pub, err := h.server.GetPublicKey(req.Name)
	if err != nil {
		h.writeError(w, r, "getPublicKey", err)
		return
	}
	writeJSON(w, http.StatusOK, getPublicKeyResponse{PEM: pub.PEM, Algorithm: pub.Algorithm, CRC32C: pub.CRC32C})
}

func (h *Handler) handleAsymmetricSign(w http.ResponseWriter, r *http.Request) {
	var req asymmetricSignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var digestAlgo registry.Digest
	var digestBytes []byte
	if req.Digest != nil {
		digestAlgo = req.Digest.Algorithm
		digestBytes = req.Digest.Bytes
	}
	sig, err := h.server.Sign(req.Name, digestAlgo, digestBytes, req.Data)
	if err != nil {
		h.writeError(w, r, "asymmetricSign", err)
		return
	}
	writeJSON(w, http.StatusOK, asymmetricSignResponse{Signature: sig, SignatureCRC32C: kmsiface.CRC32C(sig)})
}

func (h *Handler) handleAsymmetricDecrypt(w http.ResponseWriter, r *http.Request) {
	var req asymmetricDecryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plaintext, err := h.server.Decrypt(req.Name, req.Ciphertext)
	if err != nil {
		h.writeError(w, r, "asymmetricDecrypt", err)
		return
	}
	writeJSON(w, http.StatusOK, asymmetricDecryptResponse{Plaintext: plaintext, PlaintextCRC32C: kmsiface.CRC32C(plaintext)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WithError(err).WithField("op", op).Warn("fakekms request failed")
	writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
