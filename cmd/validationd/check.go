package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mlsvalidation/internal/config"
	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/infra/policyopa"
)

var errCheckFailed = errors.New("validation failed")

// newCheckCommand validates payloads from files with the same validators the
// daemon uses, without starting the server.
func newCheckCommand(v *viper.Viper) *cobra.Command {
	var encoding string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a payload from a file and print the verdict",
	}
	check.PersistentFlags().StringVar(&encoding, "encoding", "raw", "payload file encoding: raw, hex or base64")

	keyPackage := &cobra.Command{
		Use:   "key-package <file>",
		Short: "Validate a serialized KeyPackage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(args[0], encoding)
			if err != nil {
				return err
			}
			return runCheck(cmd, v, domain.ValidationRequest{Kind: domain.RequestKindKeyPackage, KeyPackage: data})
		},
	}

	var groupID string
	var epoch int64
	groupMessage := &cobra.Command{
		Use:   "group-message <file>",
		Short: "Validate a serialized MLSMessage against an optional group and epoch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(args[0], encoding)
			if err != nil {
				return err
			}
			req := &domain.GroupMessageRequest{Data: data}
			if groupID != "" {
				id, err := hex.DecodeString(groupID)
				if err != nil {
					return fmt.Errorf("--group-id: %w", err)
				}
				req.Context.GroupID = id
			}
			if epoch >= 0 {
				e := uint64(epoch)
				req.Context.Epoch = &e
			}
			return runCheck(cmd, v, domain.ValidationRequest{Kind: domain.RequestKindGroupMessage, GroupMessage: req})
		},
	}
	groupMessage.Flags().StringVar(&groupID, "group-id", "", "expected group id (hex)")
	groupMessage.Flags().Int64Var(&epoch, "epoch", -1, "expected epoch; negative skips the check")

	identityUpdate := &cobra.Command{
		Use:   "identity-update <log.json>",
		Short: "Replay an identity update log and print the resulting association state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			var log domain.UpdateLog
			if err := json.Unmarshal(payload, &log); err != nil {
				return fmt.Errorf("decode log: %w", err)
			}
			return runCheck(cmd, v, domain.ValidationRequest{Kind: domain.RequestKindIdentityUpdate, UpdateLog: &log})
		},
	}

	check.AddCommand(keyPackage, groupMessage, identityUpdate)
	return check
}

func newPolicyCommand() *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Inspect key package admission policy bundles",
	}
	policy.AddCommand(&cobra.Command{
		Use:   "hash <bundle dir>",
		Short: "Compile a bundle and print its id and content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			engine, err := policyopa.NewEngineFromBundlePath(cmd.Context(), path, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bundle_id=%s bundle_hash=%s\n", engine.BundleID(), engine.BundleHash())
			return nil
		},
	})
	return policy
}

func runCheck(cmd *cobra.Command, v *viper.Viper, req domain.ValidationRequest) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := buildApp(cmd.Context(), cfg, zap.NewNop(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	verdict := a.Service.ValidateBatch(cmd.Context(), []domain.ValidationRequest{req})[0]
	if err := printVerdict(cmd.OutOrStdout(), verdict); err != nil {
		return err
	}
	if !verdict.Valid {
		return errCheckFailed
	}
	return nil
}

func printVerdict(w io.Writer, verdict domain.Verdict) error {
	status := "pass"
	if !verdict.Valid {
		status = "fail"
	}
	fmt.Fprintf(w, "status=%s kind=%s\n", status, verdict.Kind)
	if e := verdict.Error; e != nil {
		fmt.Fprintf(w, "error.kind=%s error.code=%s retryable=%t\n", e.Kind, e.Code, e.Retryable)
		if e.UpdateIndex != nil {
			fmt.Fprintf(w, "error.update_index=%d\n", *e.UpdateIndex)
		}
		if e.ActionIndex != nil {
			fmt.Fprintf(w, "error.action_index=%d\n", *e.ActionIndex)
		}
		fmt.Fprintf(w, "error.message=%s\n", e.Message)
		return nil
	}
	switch {
	case verdict.KeyPackage != nil && verdict.KeyPackage.Info != nil:
		info := verdict.KeyPackage.Info
		fmt.Fprintf(w, "cipher_suite=0x%04x identity=%q installation_key=%x\n", uint16(info.CipherSuite), info.CredentialIdentity, info.InstallationKey)
	case verdict.GroupMessage != nil && verdict.GroupMessage.Info != nil:
		info := verdict.GroupMessage.Info
		fmt.Fprintf(w, "group_id=%x epoch=%d wire_format=%d content_type=%d\n", info.GroupID, info.Epoch, info.WireFormat, info.ContentType)
	case verdict.IdentityUpdate != nil && verdict.IdentityUpdate.State != nil:
		out, err := json.MarshalIndent(verdict.IdentityUpdate.State, "", "  ")
		if err != nil {
			return fmt.Errorf("encode association state: %w", err)
		}
		fmt.Fprintln(w, string(out))
	}
	return nil
}

func readPayload(path, encoding string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	switch encoding {
	case "raw":
		return raw, nil
	case "hex":
		return hex.DecodeString(strings.TrimSpace(string(raw)))
	case "base64":
		return base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}
