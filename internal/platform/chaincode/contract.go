// Package chaincode exposes the registry as a Hyperledger Fabric contract.
// Each transaction runs the registry service against the world state of
// that transaction; the peer provides atomicity and MVCC.
package chaincode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/domain/registry"
	"github.com/medledger/medledger/internal/platform/chaincode/result"
)

// Client certificate attributes read by the contract.
const (
	AttrAddress = "medledger.address"
	AttrRole    = "medledger.role"
)

// Chaincode event names.
const (
	EventPatientRegistered         = "PatientRegistered"
	EventDoctorRegistered          = "DoctorRegistered"
	EventReportUploaded            = "ReportUploaded"
	EventDoctorAuthorized          = "DoctorAuthorized"
	EventDoctorRevoked             = "DoctorRevoked"
	EventDoctorVerificationChanged = "DoctorVerificationChanged"
)

type RegistryContract struct {
	contractapi.Contract

	logger zerolog.Logger
	policy registry.Policy
}

func NewRegistryContract(logger zerolog.Logger, policy registry.Policy) *RegistryContract {
	return &RegistryContract{
		logger: logger.With().Str("component", "chaincode").Logger(),
		policy: policy,
	}
}

// service builds a registry service over the transaction's world state,
// clocked by the transaction timestamp so that every endorser computes the
// same write set.
func (rc *RegistryContract) service(ctx contractapi.TransactionContextInterface) (*registry.Service, error) {
	stub := ctx.GetStub()
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("read transaction timestamp: %w", err)
	}
	now := ts.AsTime().UTC()

	svc := registry.NewService(
		registry.NewLogRepository(NewStateLog(stub)),
		rc.logger.With().Str("tx_id", stub.GetTxID()).Logger(),
		rc.policy,
	)
	svc.SetClock(func() time.Time { return now })
	return svc, nil
}

// callerAddress prefers the medledger.address certificate attribute and
// falls back to the client identity id.
func callerAddress(ctx contractapi.TransactionContextInterface) (string, error) {
	id := ctx.GetClientIdentity()
	addr, found, err := id.GetAttributeValue(AttrAddress)
	if err != nil {
		return "", fmt.Errorf("read %s attribute: %w", AttrAddress, err)
	}
	if found && addr != "" {
		return addr, nil
	}
	clientID, err := id.GetID()
	if err != nil {
		return "", fmt.Errorf("read client identity: %w", err)
	}
	return clientID, nil
}

func emit(ctx contractapi.TransactionContextInterface, name string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	return ctx.GetStub().SetEvent(name, body)
}

func (rc *RegistryContract) RegisterPatient(ctx contractapi.TransactionContextInterface) (*result.Account, error) {
	return rc.register(ctx, registry.RolePatient)
}

func (rc *RegistryContract) RegisterDoctor(ctx contractapi.TransactionContextInterface) (*result.Account, error) {
	return rc.register(ctx, registry.RoleDoctor)
}

func (rc *RegistryContract) register(ctx contractapi.TransactionContextInterface, role registry.Role) (*result.Account, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}

	var a *registry.Account
	event := EventPatientRegistered
	if role == registry.RoleDoctor {
		a, err = svc.RegisterDoctor(context.Background(), caller)
		event = EventDoctorRegistered
	} else {
		a, err = svc.RegisterPatient(context.Background(), caller)
	}
	if err != nil {
		return nil, err
	}

	res := result.NewAccount(a)
	if err := emit(ctx, event, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (rc *RegistryContract) GetAccount(ctx contractapi.TransactionContextInterface) (*result.Account, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	a, err := svc.GetAccount(context.Background(), caller)
	if err != nil {
		return nil, err
	}
	return result.NewAccount(a), nil
}

// SetDoctorVerification requires the medledger.role=admin attribute.
func (rc *RegistryContract) SetDoctorVerification(ctx contractapi.TransactionContextInterface, doctor string, verified bool) (*result.Account, error) {
	if err := ctx.GetClientIdentity().AssertAttributeValue(AttrRole, "admin"); err != nil {
		return nil, registry.ErrNotAuthorized
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	a, err := svc.SetDoctorVerification(context.Background(), doctor, verified)
	if err != nil {
		return nil, err
	}

	res := result.NewAccount(a)
	if err := emit(ctx, EventDoctorVerificationChanged, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (rc *RegistryContract) UploadReport(ctx contractapi.TransactionContextInterface, contentHash string, emergency bool) (*result.Report, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	r, err := svc.UploadReport(context.Background(), caller, contentHash, emergency)
	if err != nil {
		return nil, err
	}

	// The event omits the content hash; subscribers learn only that a
	// report exists.
	if err := emit(ctx, EventReportUploaded, map[string]interface{}{
		"patient":        r.Owner,
		"sequence_no":    r.SequenceNo,
		"emergency_flag": r.EmergencyFlag,
	}); err != nil {
		return nil, err
	}
	res := result.NewReport(r.View())
	return &res, nil
}

func (rc *RegistryContract) AuthorizeDoctor(ctx contractapi.TransactionContextInterface, doctor string) (*result.Grant, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	g, err := svc.AuthorizeDoctor(context.Background(), caller, doctor)
	if err != nil {
		return nil, err
	}

	res := result.NewGrant(g)
	if err := emit(ctx, EventDoctorAuthorized, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (rc *RegistryContract) RevokeDoctor(ctx contractapi.TransactionContextInterface, doctor string) error {
	caller, err := callerAddress(ctx)
	if err != nil {
		return err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return err
	}
	if err := svc.RevokeDoctor(context.Background(), caller, doctor); err != nil {
		return err
	}
	patient, _ := registry.NormalizeAddress(caller)
	doc, _ := registry.NormalizeAddress(doctor)
	return emit(ctx, EventDoctorRevoked, map[string]string{"patient": patient, "doctor": doc})
}

// IsAuthorized answers only to the patient or the doctor it names.
func (rc *RegistryContract) IsAuthorized(ctx contractapi.TransactionContextInterface, patient, doctor string) (bool, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return false, err
	}
	if !registry.SameAddress(caller, patient) && !registry.SameAddress(caller, doctor) {
		return false, registry.ErrNotAuthorized
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return false, err
	}
	return svc.IsAuthorized(context.Background(), patient, doctor)
}

func (rc *RegistryContract) ListGrants(ctx contractapi.TransactionContextInterface) ([]result.Grant, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := svc.ListGrants(context.Background(), caller)
	if err != nil {
		return nil, err
	}
	out := make([]result.Grant, 0, len(grants))
	for i := range grants {
		out = append(out, *result.NewGrant(&grants[i]))
	}
	return out, nil
}

func (rc *RegistryContract) ViewReports(ctx contractapi.TransactionContextInterface, patient string) (*result.Access, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	a, err := svc.ViewReports(context.Background(), caller, patient)
	if err != nil {
		return nil, err
	}
	return result.NewAccess(a), nil
}

func (rc *RegistryContract) EmergencyAccess(ctx contractapi.TransactionContextInterface, patient string) (*result.Access, error) {
	caller, err := callerAddress(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := rc.service(ctx)
	if err != nil {
		return nil, err
	}
	a, err := svc.EmergencyAccess(context.Background(), caller, patient)
	if err != nil {
		return nil, err
	}
	return result.NewAccess(a), nil
}
