package main

import "travel-booking/cmd/booking-sync/cmd"

func main() {
	cmd.Execute()
}
