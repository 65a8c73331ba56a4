package mock

// mockAdvertisements holds raw advertisement payloads replayed by the
// scan loop. Each is a standard AD-structure sequence: flags, service
// UUID list and a shortened local name.
var mockAdvertisements = []string{
	"0201060303180d08084d6f636b2d3030",
	"0201060303180f08084d6f636b2d3031",
	"0201060303181a08084d6f636b2d3032",
	"02010603030a1808084d6f636b2d3033",
}
