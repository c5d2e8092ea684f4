package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arcsign/crossrail/internal/errs"
)

// SafeProposerSigner "signs" by posting a proposal to an off-chain
// co-signing service and returning a proposal identifier rather than a
// signature (§4.2). It never holds key material at all; the private keys
// live with whichever signers co-sign on the service side.
type SafeProposerSigner struct {
	safeAddress   string
	moduleAddress string
	roleKey       string
	serviceURL    string
	httpClient    *http.Client
}

// NewSafeProposerSigner builds a proposer for one Safe/Zodiac wallet.
func NewSafeProposerSigner(safeAddress, moduleAddress, roleKey, serviceURL string) *SafeProposerSigner {
	return &SafeProposerSigner{
		safeAddress:   safeAddress,
		moduleAddress: moduleAddress,
		roleKey:       roleKey,
		serviceURL:    serviceURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SafeProposerSigner) GetAddress() string {
	if s.moduleAddress != "" {
		return s.moduleAddress
	}
	return s.safeAddress
}

func (s *SafeProposerSigner) Kind() Kind { return KindSafeProposer }

type proposalRequest struct {
	Safe       string `json:"safe"`
	Module     string `json:"module,omitempty"`
	RoleKey    string `json:"roleKey,omitempty"`
	DataHex    string `json:"dataHex"`
	ProposalID string `json:"proposalId"`
}

type proposalStatusResponse struct {
	Status     string `json:"status"` // pending | executed | failed
	TxHash     string `json:"txHash,omitempty"`
}

// Sign posts the payload to the proposal service and returns a freshly
// generated proposal identifier as the "hash" the core persists. The
// real on-chain hash, if any, is learned later through ResolveHash.
func (s *SafeProposerSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	proposalID := uuid.NewString()
	body, err := json.Marshal(proposalRequest{
		Safe:       s.safeAddress,
		Module:     s.moduleAddress,
		RoleKey:    s.roleKey,
		DataHex:    hex.EncodeToString(payload),
		ProposalID: proposalID,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: marshal proposal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL+"/proposals", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signer: build proposal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &errs.SubmitError{Kind: errs.SubmitProviderDown, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &errs.SubmitError{Kind: errs.SubmitProviderDown, Cause: fmt.Errorf("proposal service returned %d: %s", resp.StatusCode, raw)}
	}

	return []byte(proposalID), nil
}

// ResolveHash polls the proposal service for the on-chain hash. It returns
// *errs.CallbackNotReady until the proposal has been executed, matching
// the readiness-polling pattern the rebalance loop already uses for
// bridge callbacks (§4.8).
func (s *SafeProposerSigner) ResolveHash(ctx context.Context, proposalID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serviceURL+"/proposals/"+proposalID, nil)
	if err != nil {
		return "", fmt.Errorf("signer: build status request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &errs.SubmitError{Kind: errs.SubmitProviderDown, Cause: err}
	}
	defer resp.Body.Close()

	var status proposalStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("signer: decode proposal status: %w", err)
	}

	switch status.Status {
	case "executed":
		if status.TxHash == "" {
			return "", fmt.Errorf("signer: proposal %s reported executed with no txHash", proposalID)
		}
		return status.TxHash, nil
	case "failed":
		return "", &errs.SubmitError{Kind: errs.SubmitRevert, Cause: fmt.Errorf("proposal %s failed co-signing", proposalID)}
	default:
		return "", &errs.CallbackNotReady{Route: proposalID}
	}
}

var _ Signer = (*SafeProposerSigner)(nil)
