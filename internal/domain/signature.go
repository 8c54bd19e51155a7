package domain

type SignatureKind string

const (
	SignatureKindWalletECDSA     SignatureKind = "wallet_ecdsa"
	SignatureKindSmartContract   SignatureKind = "smart_contract"
	SignatureKindPasskey         SignatureKind = "passkey"
	SignatureKindInstallationKey SignatureKind = "installation_key"
)

// Signature is a tagged union. Exactly the variant named by Kind is set.
type Signature struct {
	Kind            SignatureKind             `json:"kind"`
	WalletECDSA     *WalletECDSASignature     `json:"wallet_ecdsa,omitempty"`
	SmartContract   *SmartContractSignature   `json:"smart_contract,omitempty"`
	Passkey         *PasskeySignature         `json:"passkey,omitempty"`
	InstallationKey *InstallationKeySignature `json:"installation_key,omitempty"`
}

type WalletECDSASignature struct {
	// Address is the claimed signer. Empty means "whoever recovers".
	Address string `json:"address,omitempty"`
	Bytes   []byte `json:"bytes"`
}

type SmartContractSignature struct {
	AccountAddress string  `json:"account_address"`
	ChainID        string  `json:"chain_id"`
	BlockNumber    *uint64 `json:"block_number,omitempty"`
	Bytes          []byte  `json:"bytes"`
}

type PasskeySignature struct {
	PublicKey         []byte `json:"public_key"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	Signature         []byte `json:"signature"`
}

type InstallationKeySignature struct {
	PublicKey []byte `json:"public_key"`
	Bytes     []byte `json:"bytes"`
}

// RawBytes returns the bytes that identify this signature for replay detection.
func (s Signature) RawBytes() []byte {
	switch s.Kind {
	case SignatureKindWalletECDSA:
		if s.WalletECDSA != nil {
			return s.WalletECDSA.Bytes
		}
	case SignatureKindSmartContract:
		if s.SmartContract != nil {
			return s.SmartContract.Bytes
		}
	case SignatureKindPasskey:
		if s.Passkey != nil {
			return s.Passkey.Signature
		}
	case SignatureKindInstallationKey:
		if s.InstallationKey != nil {
			return s.InstallationKey.Bytes
		}
	}
	return nil
}
