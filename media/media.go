// Package media implements MediaEngine (MIP-04, spec §4.13): encrypt
// then PUT, GET then decrypt, against a Blossom-style blob server. It
// is grounded directly on the teacher's blossomUploadCmd in
// blossom.go, which PUTs ciphertext and parses the server's returned
// URL with the same fallback this package uses; generalized from the
// teacher's NIP-98-over-kind-24242 auth scheme to MLS-encrypted blobs
// with an imeta tag instead of a blossomUploadMsg UI message.
package media

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/errs"
	"github.com/nitrous-signer/core/groupengine"
)

var log = corelog.For("media")

const encodingMLS = "mls"

// Engine is the MediaEngine collaborator, bound to one Blossom-style
// blob server and the GroupEngine adapter it encrypts/decrypts through.
type Engine struct {
	serverURL string
	engine    *groupengine.Adapter
	client    *http.Client
}

// New returns an Engine that uploads to and downloads from serverURL.
func New(serverURL string, engine *groupengine.Adapter) *Engine {
	return &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		engine:    engine,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload encrypts plaintext under groupIDHex's current epoch, PUTs the
// ciphertext to the blob server, and returns the MIP-04 imeta tag
// (spec §4.13, §3): ["imeta", "url <url>", "nonce <b64>", "epoch <u64>",
// "x <sha256-hex>", "encoding mls"].
func (e *Engine) Upload(groupIDHex string, plaintext []byte) ([]string, error) {
	ciphertext, nonce, fileHash, epoch, err := e.engine.EncryptMedia(groupIDHex, plaintext)
	if err != nil {
		return nil, err
	}
	hashHex := hex.EncodeToString(fileHash)

	req, err := http.NewRequest(http.MethodPut, e.serverURL+"/upload", bytes.NewReader(ciphertext))
	if err != nil {
		return nil, errs.Wrap(errs.Network, "build upload request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-SHA-256", hashHex)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "upload media", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "read upload response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errs.New(errs.Network, fmt.Sprintf("upload failed: HTTP %d: %s", resp.StatusCode, string(body)))
	}

	url := parseUploadURL(body, e.serverURL, hashHex)

	tag := []string{
		"imeta",
		"url " + url,
		"nonce " + base64.StdEncoding.EncodeToString(nonce),
		"epoch " + strconv.FormatUint(epoch, 10),
		"x " + hashHex,
		"encoding " + encodingMLS,
	}
	log.Info().Str("group_id", groupIDHex).Str("url", url).Msg("media uploaded")
	return tag, nil
}

// Download GETs the blob referenced by an imeta tag's url element and
// decrypts it under groupIDHex's epoch (spec §4.13). imeta's element
// order is not assumed; ParseImetaTag extracts fields by prefix.
func (e *Engine) Download(groupIDHex string, imeta []string) ([]byte, error) {
	fields, err := ParseImetaTag(imeta)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Get(fields.URL)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "download media", err)
	}
	defer func() { _ = resp.Body.Close() }()

	ciphertext, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "read media body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Network, fmt.Sprintf("download failed: HTTP %d", resp.StatusCode))
	}

	nonce, err := base64.StdEncoding.DecodeString(fields.NonceB64)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolViolation, "decode imeta nonce", err)
	}

	return e.engine.DecryptMedia(groupIDHex, ciphertext, nonce, fields.Epoch)
}

// ImetaFields is the parsed form of a MIP-04 imeta tag.
type ImetaFields struct {
	URL      string
	NonceB64 string
	Epoch    uint64
	HashHex  string
	Encoding string
}

// ParseImetaTag is tolerant of element order (spec §6: "Parser is
// tolerant of element order but emitter is deterministic").
func ParseImetaTag(tag []string) (ImetaFields, error) {
	if len(tag) == 0 || tag[0] != "imeta" {
		return ImetaFields{}, errs.New(errs.ProtocolViolation, "not an imeta tag")
	}
	var f ImetaFields
	for _, el := range tag[1:] {
		key, value, ok := strings.Cut(el, " ")
		if !ok {
			continue
		}
		switch key {
		case "url":
			f.URL = value
		case "nonce":
			f.NonceB64 = value
		case "epoch":
			epoch, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return ImetaFields{}, errs.Wrap(errs.ProtocolViolation, "parse imeta epoch", err)
			}
			f.Epoch = epoch
		case "x":
			f.HashHex = value
		case "encoding":
			f.Encoding = value
		}
	}
	if f.URL == "" || f.NonceB64 == "" {
		return ImetaFields{}, errs.New(errs.ProtocolViolation, "imeta tag missing url or nonce")
	}
	if f.Encoding != "" && f.Encoding != encodingMLS {
		return ImetaFields{}, errs.New(errs.ProtocolViolation, "imeta tag has unknown encoding")
	}
	return f, nil
}

func parseUploadURL(body []byte, server, hashHex string) string {
	var respData struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &respData); err == nil && respData.URL != "" {
		return respData.URL
	}
	return server + "/" + hashHex
}
