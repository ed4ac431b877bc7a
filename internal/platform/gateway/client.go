// Package gateway is the remote ledger client: it runs the registry
// operations as transactions of the medledger chaincode through a Fabric
// Gateway peer and restores the registry error kinds on the way back.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	gatewaypb "github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc/status"

	"github.com/medledger/medledger/internal/domain/registry"
	"github.com/medledger/medledger/internal/platform/chaincode/result"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// transactor runs one chaincode function. Submit waits for the commit.
type transactor interface {
	Submit(ctx context.Context, name string, args ...string) ([]byte, error)
	Evaluate(ctx context.Context, name string, args ...string) ([]byte, error)
}

type contractTransactor struct {
	contract *client.Contract
}

func (t contractTransactor) Submit(ctx context.Context, name string, args ...string) ([]byte, error) {
	return t.contract.SubmitWithContext(ctx, name, client.WithArguments(args...))
}

func (t contractTransactor) Evaluate(ctx context.Context, name string, args ...string) ([]byte, error) {
	return t.contract.EvaluateWithContext(ctx, name, client.WithArguments(args...))
}

type Client struct {
	tx      transactor
	closers []func() error
}

func newClient(tx transactor) *Client {
	return &Client{tx: tx}
}

// Close releases the gateway and its gRPC connection.
func (c *Client) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) submit(ctx context.Context, out interface{}, name string, args ...string) error {
	body, err := c.tx.Submit(ctx, name, args...)
	if err != nil {
		return mapError(name, err)
	}
	return decode(name, body, out)
}

func (c *Client) evaluate(ctx context.Context, out interface{}, name string, args ...string) error {
	body, err := c.tx.Evaluate(ctx, name, args...)
	if err != nil {
		return mapError(name, err)
	}
	return decode(name, body, out)
}

func decode(name string, body []byte, out interface{}) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

func (c *Client) RegisterPatient(ctx context.Context) (*registry.Account, error) {
	var res result.Account
	if err := c.submit(ctx, &res, "RegisterPatient"); err != nil {
		return nil, err
	}
	return res.Account(), nil
}

func (c *Client) RegisterDoctor(ctx context.Context) (*registry.Account, error) {
	var res result.Account
	if err := c.submit(ctx, &res, "RegisterDoctor"); err != nil {
		return nil, err
	}
	return res.Account(), nil
}

func (c *Client) GetAccount(ctx context.Context) (*registry.Account, error) {
	var res result.Account
	if err := c.evaluate(ctx, &res, "GetAccount"); err != nil {
		return nil, err
	}
	return res.Account(), nil
}

func (c *Client) SetDoctorVerification(ctx context.Context, doctor string, verified bool) (*registry.Account, error) {
	var res result.Account
	if err := c.submit(ctx, &res, "SetDoctorVerification", doctor, strconv.FormatBool(verified)); err != nil {
		return nil, err
	}
	return res.Account(), nil
}

func (c *Client) UploadReport(ctx context.Context, contentHash string, emergency bool) (registry.ReportView, error) {
	var res result.Report
	if err := c.submit(ctx, &res, "UploadReport", contentHash, strconv.FormatBool(emergency)); err != nil {
		return registry.ReportView{}, err
	}
	return res.View(), nil
}

func (c *Client) AuthorizeDoctor(ctx context.Context, doctor string) (*registry.Grant, error) {
	var res result.Grant
	if err := c.submit(ctx, &res, "AuthorizeDoctor", doctor); err != nil {
		return nil, err
	}
	return res.Grant(), nil
}

func (c *Client) RevokeDoctor(ctx context.Context, doctor string) error {
	return c.submit(ctx, nil, "RevokeDoctor", doctor)
}

func (c *Client) IsAuthorized(ctx context.Context, patient, doctor string) (bool, error) {
	var ok bool
	if err := c.evaluate(ctx, &ok, "IsAuthorized", patient, doctor); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Client) ListGrants(ctx context.Context) ([]registry.Grant, error) {
	var res []result.Grant
	if err := c.evaluate(ctx, &res, "ListGrants"); err != nil {
		return nil, err
	}
	out := make([]registry.Grant, 0, len(res))
	for i := range res {
		out = append(out, *res[i].Grant())
	}
	return out, nil
}

func (c *Client) ViewReports(ctx context.Context, patient string) (*registry.Access, error) {
	var res result.Access
	if err := c.evaluate(ctx, &res, "ViewReports", patient); err != nil {
		return nil, err
	}
	return res.Access(), nil
}

func (c *Client) EmergencyAccess(ctx context.Context, patient string) (*registry.Access, error) {
	var res result.Access
	if err := c.evaluate(ctx, &res, "EmergencyAccess", patient); err != nil {
		return nil, err
	}
	return res.Access(), nil
}

// mapError restores the registry error kind carried in a chaincode error
// message. MVCC read conflicts at commit become ledger.ErrConflict.
func mapError(name string, err error) error {
	var commitErr *client.CommitError
	if errors.As(err, &commitErr) && commitErr.Code == peer.TxValidationCode_MVCC_READ_CONFLICT {
		return fmt.Errorf("%s: %w", name, ledger.ErrConflict)
	}

	msg := errorText(err)
	for _, sentinel := range registry.Sentinels {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("%s: %w", name, sentinel)
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// errorText joins the error string with the per-peer messages a gateway
// status carries in its details.
func errorText(err error) string {
	parts := []string{err.Error()}
	if st, ok := status.FromError(err); ok {
		for _, d := range st.Details() {
			if detail, ok := d.(*gatewaypb.ErrorDetail); ok {
				parts = append(parts, detail.GetMessage())
			}
		}
	}
	return strings.Join(parts, "; ")
}
