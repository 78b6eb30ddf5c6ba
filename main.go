package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"SkipQuadtree/quadtree"
	"SkipQuadtree/quadtree/rlu"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var worldCenter = quadtree.Point{0, 0}
var worldLength = 360.0

var tree *quadtree.Quadtree

const (
	numDrivers   = 10000
	moveInterval = 2 * time.Second
)

// simulateDriver inserts one point into the tree and then repeatedly
// removes and reinserts it at a nearby location, the way a moving
// driver's last-known position would be kept current. Each simulated
// driver runs on its own goroutine and therefore needs its own
// rlu.Context — a Context is thread-local bookkeeping, never shared.
func simulateDriver(seed int64) {
	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + seed))

	time.Sleep(time.Duration(rng.Intn(5000)) * time.Millisecond)

	current := quadtree.Point{
		(rng.Float64() * 360) - 180,
		(rng.Float64() * 180) - 90,
	}

	for !tree.Insert(ctx, current) {
		current = quadtree.Point{
			(rng.Float64() * 360) - 180,
			(rng.Float64() * 180) - 90,
		}
	}

	for {
		time.Sleep(moveInterval)

		tree.Remove(ctx, current)

		next := quadtree.Point{
			clampLon(current[0] + (rng.Float64()-0.5)*0.1),
			clampLat(current[1] + (rng.Float64()-0.5)*0.1),
		}

		if tree.Insert(ctx, next) {
			current = next
		} else {
			// Collided with another driver's exact position; keep the
			// old one and try a new offset next tick.
			tree.Insert(ctx, current)
		}
	}
}

func clampLon(lon float64) float64 {
	if lon > 180 {
		return -180
	}
	if lon < -180 {
		return 180
	}
	return lon
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return -90
	}
	if lat < -90 {
		return 90
	}
	return lat
}

// handleFindNearby is the `/find-nearby`-equivalent endpoint: since
// range queries are out of scope, it reports whether a driver is
// currently at the exact lat/lon given, rather than within a radius.
func handleFindNearby(c *gin.Context) {
	p, ok := parsePoint(c)
	if !ok {
		return
	}

	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	c.JSON(http.StatusOK, gin.H{"present": tree.Search(ctx, p)})
}

func handleInsert(c *gin.Context) {
	p, ok := parsePoint(c)
	if !ok {
		return
	}

	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	ok, reason := tree.InsertReason(ctx, p)
	c.JSON(http.StatusOK, gin.H{"inserted": ok, "reason": reason.String()})
}

func handleRemove(c *gin.Context) {
	p, ok := parsePoint(c)
	if !ok {
		return
	}

	ctx := rlu.ThreadInit()
	defer ctx.ThreadFinish()

	ok, reason := tree.RemoveReason(ctx, p)
	c.JSON(http.StatusOK, gin.H{"removed": ok, "reason": reason.String()})
}

func parsePoint(c *gin.Context) (quadtree.Point, bool) {
	latStr := c.Query("lat")
	lonStr := c.Query("lon")

	lat, errLat := strconv.ParseFloat(latStr, 64)
	lon, errLon := strconv.ParseFloat(lonStr, 64)

	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing 'lat'/'lon' parameters"})
		return quadtree.Point{}, false
	}

	return quadtree.Point{lon, lat}, true
}

func main() {
	tree = quadtree.InitRoot(worldCenter, worldLength)

	log.Printf("Starting simulation with %d drivers...", numDrivers)
	for i := 0; i < numDrivers; i++ {
		go simulateDriver(int64(i))
	}
	log.Println("Simulation started in the background.")

	r := gin.Default()

	r.Use(cors.Default())

	r.GET("/find-nearby", handleFindNearby)
	r.POST("/insert", handleInsert)
	r.POST("/remove", handleRemove)

	addr := ":8080"
	log.Println("API server listening on http://localhost" + addr)
	if err := r.Run(addr); err != nil {
		log.Fatal(fmt.Errorf("server exited: %w", err))
	}
}
