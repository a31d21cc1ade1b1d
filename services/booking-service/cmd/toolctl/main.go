package main

import "github.com/md-rashed-zaman/voicebook/services/booking-service/cmd/toolctl/cmd"

var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
