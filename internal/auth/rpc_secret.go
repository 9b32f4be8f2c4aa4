package auth

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

const (
	EnvRPCSecret = "ARIADL_RPC_SECRET"

	rpcSecretKeychainService = "ariadl.rpc"
	rpcSecretKeychainAccount = "default"
)

var ErrRPCSecretNotFound = errors.New("rpc secret not found")

type commandRunner func(name string, args ...string) ([]byte, error)

// RPCSecretResolver finds the aria2 --rpc-secret. The environment wins over
// the macOS keychain entry "ariadl.rpc".
type RPCSecretResolver struct {
	Getenv  func(string) string
	Command commandRunner
}

func ResolveRPCSecret() (string, error) {
	return RPCSecretResolver{
		Getenv:  os.Getenv,
		Command: runCommandOutput,
	}.Resolve()
}

func (r RPCSecretResolver) Resolve() (string, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if value := strings.TrimSpace(getenv(EnvRPCSecret)); value != "" {
		return value, nil
	}

	command := r.Command
	if command == nil {
		command = runCommandOutput
	}
	raw, err := command(
		"security",
		"find-generic-password",
		"-s", rpcSecretKeychainService,
		"-a", rpcSecretKeychainAccount,
		"-w",
	)
	if err != nil {
		return "", ErrRPCSecretNotFound
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", ErrRPCSecretNotFound
	}
	return value, nil
}

func runCommandOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}
