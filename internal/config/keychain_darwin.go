//go:build darwin

package config

import "os/exec"

// security runs the macOS security tool against the login keychain.
func security(verb, service, account string, extra ...string) *exec.Cmd {
	args := append([]string{verb, "-s", service, "-a", account}, extra...)
	return exec.Command("security", args...)
}

func keychainGet(service, account string) ([]byte, error) {
	return security("find-generic-password", service, account, "-w").Output()
}

// keychainSet updates the item in place when it already exists.
func keychainSet(service, account, value string) error {
	return security("add-generic-password", service, account, "-U", "-w", value).Run()
}
