package domain

// PolicyInput is evaluated by the admission policy after a key package has
// passed structural and cryptographic checks.
type PolicyInput struct {
	KeyPackage PolicyKeyPackage `json:"key_package"`
	Now        int64            `json:"now"`
}

type PolicyKeyPackage struct {
	CipherSuite        uint16 `json:"cipher_suite"`
	CredentialType     uint16 `json:"credential_type"`
	CredentialIdentity string `json:"credential_identity"`
	InstallationKey    string `json:"installation_key"`
	NotBefore          uint64 `json:"not_before"`
	NotAfter           uint64 `json:"not_after"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id,omitempty"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
