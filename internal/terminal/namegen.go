package terminal

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Codenames are display labels, not identifiers; collisions are allowed.
var codenameAdjectives = []string{
	"agile", "amber", "arcane", "astral", "atomic",
	"binary", "blazing", "boreal", "brisk", "cobalt",
	"copper", "cosmic", "crisp", "daring", "dusky",
	"electric", "ember", "feral", "fleet", "frosted",
	"galactic", "gentle", "gilded", "glowing", "granite",
	"hidden", "hollow", "humming", "indigo", "ionic",
	"jagged", "jovial", "kinetic", "lucid", "lunar",
	"magnetic", "mellow", "mirthful", "nebular", "nimble",
	"nocturnal", "obsidian", "orbital", "patient", "plucky",
	"polar", "quantum", "quiet", "radiant", "rapid",
	"restless", "rusty", "sable", "sapphire", "scarlet",
	"silent", "solar", "sonic", "spectral", "stellar",
	"sturdy", "swift", "tidal", "tireless", "turbo",
	"umbral", "vast", "velvet", "vivid", "wandering",
	"wily", "woven", "zealous", "zen",
}

var codenameNouns = []string{
	"albatross", "anchor", "antenna", "asteroid", "beacon",
	"buoy", "capstan", "comet", "compass", "corsair",
	"cutter", "dinghy", "dolphin", "drifter", "eclipse",
	"galleon", "gull", "harpoon", "helm", "horizon",
	"hull", "jetty", "keel", "kestrel", "kraken",
	"lantern", "lighthouse", "mariner", "mast", "meteor",
	"narwhal", "nebula", "oar", "orca", "outrigger",
	"parsec", "periscope", "pilot", "planet", "pulsar",
	"quasar", "rudder", "satellite", "schooner", "sextant",
	"skiff", "sloop", "sonar", "sounder", "starling",
	"tern", "tide", "trawler", "voyager", "wake",
	"whaler", "winch", "yawl", "zenith",
}

// GenerateCodename returns a random "adjective-noun" display name.
func GenerateCodename() string {
	return codenameAdjectives[randIndex(len(codenameAdjectives))] + "-" +
		codenameNouns[randIndex(len(codenameNouns))]
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(n))
	}
	return int(v.Int64())
}
