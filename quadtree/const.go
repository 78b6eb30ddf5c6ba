package quadtree

// MaxRetries bounds the total number of attempts a write operation
// (Insert, Remove) makes at its body, the first one included, before
// surfacing a contention failure to the caller.
const MaxRetries = 10

// TopGrowthPercent is the probability, as an integer percentage, that
// Insert advances one level up (or creates a new top level) before
// starting its descent. Each level adds O(log n) expected traversal
// cost but keeps the skip structure's height close to log n.
const TopGrowthPercent = 50
