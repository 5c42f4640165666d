// Package mech implements mechanism dispatch (C7): validating a requested
// mechanism against the target key's class and algorithm, validating any
// mechanism parameters, and returning the Resolved record from which the op
// package constructs the concrete operation object.
package mech

import (
	"fmt"

	"github.com/kenneth/kms-token-provider/internal/attrs"
	"github.com/kenneth/kms-token-provider/internal/object"
	"github.com/kenneth/kms-token-provider/internal/registry"
	"github.com/kenneth/kms-token-provider/internal/tokenerr"
)

// Params carries mechanism-specific parameters. Only one of the embedded
// fields is meaningful per Mechanism value; dispatch validates the one it
// expects and ignores the rest.
type Params struct {
	PSS  *PSSParams
	OAEP *OAEPParams
}

// PSSParams mirrors the token API's CK_RSA_PKCS_PSS_PARAMS.
type PSSParams struct {
	Digest    registry.Digest
	MGFDigest registry.Digest
	SaltLen   int
}

// OAEPParams mirrors the token API's CK_RSA_PKCS_OAEP_PARAMS.
type OAEPParams struct {
	Digest    registry.Digest
	MGFDigest registry.Digest
	Source    []byte // must be empty: the core never supports a label source
}

// Purpose names which operation category is being initialized, for the
// key-class compatibility check in step 1 of dispatch.
type Purpose int

const (
	PurposeSign Purpose = iota
	PurposeVerify
	PurposeEncrypt
	PurposeDecrypt
)

// Resolved is the outcome of a successful dispatch: the validated mechanism,
// its parameters, and the key object it will operate against.
type Resolved struct {
	Mechanism registry.Mechanism
	Params    Params
	Key       *object.Object
}

// Dispatch runs the four validation steps spec.md 4.7 requires and returns
// the resolved mechanism, or a tokenerr.Error naming the specific violation.
// Digest operations carry no key and so never go through Dispatch; the
// caller drives them directly from the registry Digest they were opened
// with.
func Dispatch(purpose Purpose, key *object.Object, m registry.Mechanism, params Params) (*Resolved, error) {
	if key == nil {
		return nil, tokenerr.Internal(tokenerr.GeneralError, "mech.Dispatch", fmt.Errorf("nil key"))
	}

	if err := checkKeyClass(purpose, key); err != nil {
		return nil, err
	}

	if !registry.AllowsMechanism(key.Algorithm.Algorithm, m) {
		return nil, tokenerr.New(tokenerr.MechanismInvalid, "mech.Dispatch", nil)
	}

	if err := validateParams(key, m, params); err != nil {
		return nil, err
	}

	return &Resolved{Mechanism: m, Params: params, Key: key}, nil
}

func checkKeyClass(purpose Purpose, key *object.Object) error {
	switch purpose {
	case PurposeSign, PurposeDecrypt:
		if !key.IsPrivate() {
			return tokenerr.New(tokenerr.KeyTypeInconsistent, "mech.Dispatch", nil)
		}
	case PurposeVerify, PurposeEncrypt:
		if !key.IsPublic() {
			return tokenerr.New(tokenerr.KeyTypeInconsistent, "mech.Dispatch", nil)
		}
	}

	var required attrs.Code
	switch purpose {
	case PurposeSign:
		required = attrs.Sign
	case PurposeVerify:
		required = attrs.Verify
	case PurposeEncrypt:
		required = attrs.Encrypt
	case PurposeDecrypt:
		required = attrs.Decrypt
	default:
		return nil
	}
	v, err := key.Attributes.Get(required)
	if err != nil || !v.Bool() {
		return tokenerr.New(tokenerr.KeyFunctionNotPermitted, "mech.Dispatch", nil)
	}
	return nil
}

func validateParams(key *object.Object, m registry.Mechanism, params Params) error {
	details := key.Algorithm
	switch m {
	case registry.RSAPKCSPSS, registry.SHA256RSAPKCSPSS:
		p := params.PSS
		if p == nil {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", nil)
		}
		if p.Digest != details.Digest || p.MGFDigest != details.Digest {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", fmt.Errorf("PSS digest/MGF digest must equal the algorithm's bound digest"))
		}
		if p.SaltLen != details.Digest.Size() {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", fmt.Errorf("PSS salt length must equal digest length"))
		}
	case registry.RSAPKCSOAEP:
		p := params.OAEP
		if p == nil {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", nil)
		}
		if p.Digest != details.Digest || p.MGFDigest != details.Digest {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", fmt.Errorf("OAEP digest/MGF digest must equal the algorithm's bound digest"))
		}
		if len(p.Source) != 0 {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", fmt.Errorf("OAEP source must be empty"))
		}
	case registry.ECDSASHA256, registry.ECDSASHA384:
		// Digest-binding ECDSA carries no extra parameter block; the digest
		// is implied by the mechanism code itself and checked against the
		// algorithm's bound digest here.
		want := registry.ECDSASHA256
		if details.Digest == registry.DigestSHA384 {
			want = registry.ECDSASHA384
		}
		if m != want {
			return tokenerr.New(tokenerr.MechanismParamInvalid, "mech.validateParams", nil)
		}
	}
	return nil
}
