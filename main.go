package main

import "example.com/iotmon/services/telemetry/cmd"

func main() {
	cmd.Execute()
}
