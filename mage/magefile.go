//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

const (
	SERVER_BINARY = "../bin/spacechat-server"
	CLIENT_BINARY = "../bin/spacechat-client"
	COMBO_BINARY  = "../bin/spacechat"
)

func Build() error {
	mg.Deps(BuildServer, BuildClient)
	fmt.Println("🔨 Building combined binary...")
	return runCmd("go", "build", "-o", COMBO_BINARY, "../cmd/spacechat")
}

func BuildServer() error {
	fmt.Println("🔨 Building server binary...")
	return runCmd("go", "build", "-o", SERVER_BINARY, "../cmd/server")
}

func BuildClient() error {
	fmt.Println("🔨 Building client binary...")
	return runCmd("go", "build", "-o", CLIENT_BINARY, "../cmd/client")
}

func Test() error {
	fmt.Println("🧪 Running tests...")
	return runCmd("go", "test", "../...")
}

func Local() error {
	mg.Deps(Build)
	fmt.Println("▶️  Starting local server + client...")
	return runCmd(COMBO_BINARY, "local")
}

func Clean() {
	fmt.Println("🧹 Cleaning up...")
	os.Remove(SERVER_BINARY)
	os.Remove(CLIENT_BINARY)
	os.Remove(COMBO_BINARY)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
