package staging

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound collapses "does not exist", "expired" and (for execute)
// "already executed" into one condition. None of them warrant a retry with
// the same request, so the distinction is not externally observable.
var ErrNotFound = errors.New("transaction not found, expired, or already executed")

const (
	StatusStaged   = "staged"
	StatusExecuted = "executed"

	RecipientPending  = "pending"
	RecipientExecuted = "executed"
)

type StagedTransaction struct {
	TransactionID    string          `json:"transactionId"`
	SessionID        string          `json:"sessionId"`
	Status           string          `json:"status"`
	Network          string          `json:"network"`
	ServerAddress    string          `json:"serverAddress"`
	ContractAddress  string          `json:"contractAddress"`
	RecipientCount   int             `json:"recipientCount"`
	TotalFeeTRX      decimal.Decimal `json:"totalFeeTRX"`
	CreatedAt        time.Time       `json:"createdAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	BlockchainTxHash *string         `json:"blockchainTxHash,omitempty"`
	EnergyUsed       *int64          `json:"energyUsed,omitempty"`
	ExecutedAt       *time.Time      `json:"executedAt,omitempty"`
}

type StagedNotice struct {
	NoticeType        string `json:"noticeType"`
	CaseNumber        string `json:"caseNumber"`
	IssuingAgency     string `json:"issuingAgency"`
	PublicText        string `json:"publicText"`
	CaseDetails       string `json:"caseDetails"`
	LegalRights       string `json:"legalRights"`
	HasDocument       bool   `json:"hasDocument"`
	RequiresSignature bool   `json:"requiresSignature"`
	TokenName         string `json:"tokenName"`
	DeliveryMethod    string `json:"deliveryMethod"`
}

// StagedFiles holds bare filenames; URLs are derived from the staging or
// permanent namespace depending on transaction status.
type StagedFiles struct {
	ThumbnailName         string `json:"thumbnailName,omitempty"`
	DocumentName          string `json:"documentName,omitempty"`
	EncryptedDocumentName string `json:"encryptedDocumentName,omitempty"`
}

func (f StagedFiles) Names() []string {
	var out []string
	for _, n := range []string{f.ThumbnailName, f.DocumentName, f.EncryptedDocumentName} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (f StagedFiles) Empty() bool { return len(f.Names()) == 0 }

type StagedIPFS struct {
	IPFSHash      string `json:"ipfsHash,omitempty"`
	EncryptedIPFS string `json:"encryptedIpfs,omitempty"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
	MetadataURI   string `json:"metadataUri,omitempty"`
}

func (p StagedIPFS) Empty() bool {
	return p.IPFSHash == "" && p.EncryptedIPFS == "" && p.EncryptionKey == "" && p.MetadataURI == ""
}

type StagedRecipient struct {
	RecipientAddress string  `json:"address"`
	NoticeID         string  `json:"noticeId"`
	RecipientIndex   int     `json:"recipientIndex"`
	Status           string  `json:"status"`
	AlertID          *string `json:"alertId,omitempty"`
	DocumentID       *string `json:"documentId,omitempty"`
}

type StagedEnergyEstimate struct {
	EstimatedEnergy int64           `json:"energyRequired"`
	BurningCostTRX  decimal.Decimal `json:"burningCostTRX"`
	RentalCostTRX   decimal.Decimal `json:"rentalCostTRX"`
	SavingsTRX      decimal.Decimal `json:"savingsTRX"`
}

// StagedRecord is the full multi-table record scoped by one transaction_id.
type StagedRecord struct {
	Transaction StagedTransaction     `json:"transaction"`
	Notice      StagedNotice          `json:"notice"`
	Files       *StagedFiles          `json:"files,omitempty"`
	IPFS        *StagedIPFS           `json:"ipfs,omitempty"`
	Recipients  []StagedRecipient     `json:"recipients"`
	Estimate    *StagedEnergyEstimate `json:"estimates,omitempty"`
}

// ExecutionEvidence is what the client reports after performing the on-chain
// call with the staged parameters. Alert/document ids are aligned by
// recipient_index; the ids are assigned by the contract, not generated here.
type ExecutionEvidence struct {
	BlockchainTxHash string   `json:"blockchainTxHash"`
	AlertIDs         []string `json:"alertIds,omitempty"`
	DocumentIDs      []string `json:"documentIds,omitempty"`
	EnergyUsed       *int64   `json:"energyUsed,omitempty"`
}

type ExecutedRecipient struct {
	Address    string `json:"address"`
	NoticeID   string `json:"noticeId"`
	AlertID    string `json:"alertId"`
	DocumentID string `json:"documentId"`
}

type ExecutionResult struct {
	TransactionID    string              `json:"transactionId"`
	BlockchainTxHash string              `json:"blockchainTxHash"`
	Recipients       []ExecutedRecipient `json:"recipients"`
}

// CleanedTransaction pairs an expired staged transaction with the staged
// filenames that still need removal from disk.
type CleanedTransaction struct {
	TransactionID   string
	StagedFileNames []string
}

type IdempotencyRecord struct {
	SessionID      string
	IdempotencyKey string
	Endpoint       string
	ResponseStatus int
	ResponseBody   []byte
}

// resolveRecipientIDs maps positional execution evidence back onto a
// recipient. Falls back to the recipient's own notice_id when the caller
// supplied no array (or a short one) for that position.
func resolveRecipientIDs(ev ExecutionEvidence, rec StagedRecipient) (alertID, documentID string) {
	alertID = rec.NoticeID
	documentID = rec.NoticeID
	if rec.RecipientIndex < len(ev.AlertIDs) && ev.AlertIDs[rec.RecipientIndex] != "" {
		alertID = ev.AlertIDs[rec.RecipientIndex]
	}
	if rec.RecipientIndex < len(ev.DocumentIDs) && ev.DocumentIDs[rec.RecipientIndex] != "" {
		documentID = ev.DocumentIDs[rec.RecipientIndex]
	}
	return alertID, documentID
}
