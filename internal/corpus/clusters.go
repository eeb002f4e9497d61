// Package corpus builds the labeled test corpus: literal topic clusters
// scaled by paraphrase generation and cached background entries, with
// entry-to-cluster ground truth recorded in the store.
package corpus

import "recallbench/internal/store"

// Cluster is a ground-truth topic with literal seed texts. Cluster IDs
// are positive; 0 marks noise and -1 marks generated background entries.
type Cluster struct {
	ID    int
	Name  string
	Seeds []string
}

// Seed pairs one text with its cluster label.
type Seed struct {
	Text    string
	Cluster int
}

// Clusters is the built-in topic set. Topics are deliberately far apart
// so embeddings separate cleanly and keyword vocabularies barely overlap.
var Clusters = []Cluster{
	{
		ID:   1,
		Name: "coral reefs",
		Seeds: []string{
			"Coral bleaching happens when sustained heat stress makes polyps expel their symbiotic algae, leaving the white skeleton visible through the transparent tissue.",
			"Parrotfish graze algae off reef surfaces and excrete fine coral sand, keeping the substrate clear enough for new coral larvae to settle.",
			"Staghorn coral grows several centimeters a year, which is fast for a reef builder but slow against hurricane damage and anchor strikes.",
			"Reef monitoring programs track the ratio of live coral cover to macroalgae, since a shift toward algae usually signals a reef past its recovery point.",
		},
	},
	{
		ID:   2,
		Name: "espresso",
		Seeds: []string{
			"A standard espresso shot pushes about 36 grams of water through 18 grams of finely ground coffee in under thirty seconds at nine bars of pressure.",
			"Under-extracted espresso tastes sour and salty because the acids dissolve early while the balancing sugars need more contact time.",
			"Grind size is the main extraction lever: finer particles expose more surface area and slow the flow, both of which raise extraction yield.",
			"Espresso machines hold brew water a few degrees below boiling, typically 90 to 96 Celsius, because hotter water strips bitter compounds from the puck.",
		},
	},
	{
		ID:   3,
		Name: "battery chemistry",
		Seeds: []string{
			"A lithium-ion cell stores charge by shuttling lithium ions between a graphite anode and a metal-oxide cathode through a liquid electrolyte.",
			"Battery capacity fades as cycling builds up the solid electrolyte interphase, a film that permanently traps lithium on the anode surface.",
			"Keeping a lithium battery between twenty and eighty percent charge reduces lattice stress on the cathode and roughly doubles its usable cycle life.",
			"Thermal runaway starts when internal shorting heats a cell past the point where the cathode releases oxygen, feeding a fire that needs no outside air.",
		},
	},
	{
		ID:   4,
		Name: "castle fortification",
		Seeds: []string{
			"Concentric castles placed a lower outer curtain wall inside the range of the inner wall, so defenders on both walls could fire on the same attacker.",
			"A machicolation is a floor opening behind a parapet that let defenders drop stones straight down on attackers pressed against the castle wall base.",
			"Spiral staircases in medieval keeps usually turn clockwise going up, cramping the sword arm of an attacker climbing while freeing the defender's.",
			"Krak des Chevaliers held out through a dozen sieges largely because its sloped glacis made mining and ladder assaults on the inner ward impractical.",
		},
	},
	{
		ID:   5,
		Name: "marathon training",
		Seeds: []string{
			"Most marathon plans build weekly mileage no faster than ten percent per week, since tendons and bone adapt to load far more slowly than cardiac fitness.",
			"The long run teaches the body to burn fat at race pace, sparing the roughly two thousand calories of glycogen a runner can store.",
			"Hitting the wall around kilometer thirty is glycogen depletion, and the standard countermeasure is taking in carbohydrate every twenty minutes from the start.",
			"Tapering cuts training volume by about half in the final three weeks so accumulated muscle damage heals without losing aerobic fitness.",
		},
	},
	{
		ID:   6,
		Name: "weather radar",
		Seeds: []string{
			"Doppler weather radar measures the frequency shift of the returned pulse to estimate how fast rain is moving toward or away from the antenna.",
			"A hook echo on the reflectivity display marks rain wrapped around a mesocyclone and remains one of the classic tornado signatures.",
			"Dual-polarization radar sends pulses in both horizontal and vertical orientation, letting it tell flattened raindrops from tumbling hailstones.",
			"Radar beams travel in nearly straight lines while the Earth curves away, so a distant storm is sampled only at altitudes above its rain core.",
		},
	},
}

// NoiseSeeds are unrelated one-off entries inserted with cluster 0. They
// exist so keyword and vector searches always have plausible wrong
// answers available.
var NoiseSeeds = []string{
	"The first commercially successful stapler fastened papers with a single preloaded brass staple and had to be reloaded after every use.",
	"Standard shipping pallets in Europe measure 800 by 1200 millimeters, a footprint chosen to fit railcar doors of the 1960s.",
	"Most commercial toothpaste is about half abrasive by weight, usually hydrated silica soft enough to spare enamel.",
	"The QWERTY layout spread with the Remington No. 2 typewriter and survived every later attempt at a faster arrangement.",
	"A violin bow is strung with roughly 160 horsehairs, and players replace the set long before the stick itself wears out.",
	"Traffic roundabouts cut fatal intersection crashes mainly by eliminating the high-speed right-angle collision geometry.",
	"Instant noodles are flash-fried in palm oil during manufacture, which is what lets them rehydrate in three minutes.",
	"The zip code system divides the United States into ten broad regions by the first digit, starting with zero in New England.",
}

// Relations is the built-in subject-predicate-object table for the
// structured channel. Entities echo names that appear in, or border on,
// the cluster topics.
var Relations = []store.Relation{
	{Subject: "Great Barrier Reef", Predicate: "located_in", Object: "Coral Sea"},
	{Subject: "Great Barrier Reef", Predicate: "monitored_by", Object: "Australian Institute of Marine Science"},
	{Subject: "staghorn coral", Predicate: "classified_as", Object: "critically endangered"},
	{Subject: "arabica", Predicate: "grown_in", Object: "Ethiopian highlands"},
	{Subject: "espresso machine", Predicate: "invented_by", Object: "Angelo Moriondo"},
	{Subject: "lithium", Predicate: "mined_in", Object: "Atacama Desert"},
	{Subject: "graphite anode", Predicate: "paired_with", Object: "metal-oxide cathode"},
	{Subject: "Krak des Chevaliers", Predicate: "located_in", Object: "Syria"},
	{Subject: "Krak des Chevaliers", Predicate: "held_by", Object: "Knights Hospitaller"},
	{Subject: "Edinburgh Castle", Predicate: "built_on", Object: "Castle Rock"},
	{Subject: "Eliud Kipchoge", Predicate: "won", Object: "Berlin Marathon"},
	{Subject: "NEXRAD", Predicate: "operated_by", Object: "National Weather Service"},
	{Subject: "Doppler radar", Predicate: "measures", Object: "radial velocity"},
	{Subject: "Remington No. 2", Predicate: "introduced", Object: "QWERTY layout"},
}

// BackgroundTopics is the rotating pool the background cache generates
// notes from. None of them overlap the ground-truth clusters.
var BackgroundTopics = []string{
	"the invention of the zipper",
	"how lighthouses were automated",
	"the standardization of shipping containers",
	"the history of the pencil",
	"how suspension bridges handle wind",
	"the domestication of pigeons",
	"the origin of daylight saving time",
	"how vending machines detect coins",
	"the construction of the Panama Canal locks",
	"why manhole covers are round",
	"the early history of weather balloons",
	"how player pianos encode music",
	"the design of subway map diagrams",
	"the chemistry of invisible ink",
	"how grain elevators prevent dust explosions",
	"the adoption of standard time zones by railroads",
}

// SeedEntries flattens the built-in clusters and noise set into a single
// ordered seed list: cluster seeds in cluster order, then noise.
func SeedEntries() []Seed {
	var seeds []Seed
	for _, c := range Clusters {
		for _, text := range c.Seeds {
			seeds = append(seeds, Seed{Text: text, Cluster: c.ID})
		}
	}
	for _, text := range NoiseSeeds {
		seeds = append(seeds, Seed{Text: text, Cluster: 0})
	}
	return seeds
}
