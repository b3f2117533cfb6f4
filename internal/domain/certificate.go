package domain

// RetirementCertificate evidences a permanent burn of units.
// Certificates are append-only: never edited, never deleted.
type RetirementCertificate struct {
	CertificateID string
	Holder        string
	BatchID       string
	Amount        int64
	RetiredAt     int64   // Unix ms
	Beneficiary   *string // optional label of who the offset is for
	Reason        *string // optional free text
	Fingerprint   string  // base58 SHA-256 of the canonical certificate fields
	TxID          string  // journal transaction that burned the units
}

// Clone returns a copy of the certificate.
func (c *RetirementCertificate) Clone() *RetirementCertificate {
	cp := *c
	if c.Beneficiary != nil {
		b := *c.Beneficiary
		cp.Beneficiary = &b
	}
	if c.Reason != nil {
		r := *c.Reason
		cp.Reason = &r
	}
	return &cp
}
