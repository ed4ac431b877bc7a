package gateway

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config locates the peer and the client identity used to sign
// transactions.
type Config struct {
	MSPID        string
	PeerEndpoint string
	GatewayPeer  string
	CertPath     string
	KeyPath      string
	TLSCertPath  string
	Channel      string
	Chaincode    string
}

// Connect dials the peer's gateway service and returns a Client bound to
// the registry chaincode. Close releases the connection.
func Connect(cfg Config) (*Client, error) {
	conn, err := newGrpcConnection(cfg)
	if err != nil {
		return nil, err
	}
	id, err := newIdentity(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sign, err := newSign(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(time.Minute),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to gateway: %w", err)
	}

	contract := gw.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode)
	c := newClient(contractTransactor{contract})
	c.closers = append(c.closers, gw.Close, conn.Close)
	return c, nil
}

func newGrpcConnection(cfg Config) (*grpc.ClientConn, error) {
	certificate, err := loadCertificate(cfg.TLSCertPath)
	if err != nil {
		return nil, err
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(certificate)
	creds := credentials.NewClientTLSFromCert(certPool, cfg.GatewayPeer)

	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}
	return conn, nil
}

func newIdentity(cfg Config) (*identity.X509Identity, error) {
	certificate, err := loadCertificate(cfg.CertPath)
	if err != nil {
		return nil, err
	}
	id, err := identity.NewX509Identity(cfg.MSPID, certificate)
	if err != nil {
		return nil, fmt.Errorf("create client identity: %w", err)
	}
	return id, nil
}

func newSign(cfg Config) (identity.Sign, error) {
	keyFile, err := firstFile(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	privateKeyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	privateKey, err := identity.PrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return sign, nil
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	file, err := firstFile(filename)
	if err != nil {
		return nil, err
	}
	certificatePEM, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}
	return identity.CertificateFromPEM(certificatePEM)
}

// firstFile resolves an MSP directory such as keystore/ or signcerts/ to
// the first file it contains. Plain files are returned unchanged.
func firstFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("read directory %s: %w", path, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(path, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no files in %s", path)
}
