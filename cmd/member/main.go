package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"swimguard/internal/api"
	"swimguard/internal/cluster"
	"swimguard/internal/detector"
	"swimguard/internal/membership"
	"swimguard/internal/snapshot"
	"swimguard/internal/transport"
)

func main() {
	bind := flag.String("bind", ":7946", "UDP address to gossip on")
	httpAddr := flag.String("http", ":8080", "HTTP address for the introspection/control API")
	id := flag.String("id", "", "Member id (defaults to a fresh random id)")
	persistent := flag.Bool("persistent", false, "Mark this member as persistent (probed even once Confirmed down)")
	seeds := flag.String("seeds", "", "Comma-separated id=address seed members to connect to on startup")
	snapshotPath := flag.String("snapshot-dir", "", "If set, enables the optional snapshot store at this path")
	flag.Parse()

	memberID := *id
	if memberID == "" {
		memberID = membership.NewMemberID()
	}

	self := membership.Member{
		ID:         memberID,
		Incarnation: 0,
		Address:    *bind,
		Persistent: *persistent,
	}

	fmt.Printf("🚀 Starting swimguard member %s on %s\n", self.ID, self.Address)

	socket, err := transport.ListenUDP(*bind, func(err error) {
		fmt.Printf("⚠️ dropped malformed datagram: %v\n", err)
	})
	if err != nil {
		log.Fatal("failed to bind UDP socket:", err)
	}

	c := cluster.New(detector.DefaultConfig(), self, socket, cluster.Callbacks{
		OnAlive: func(m membership.MembershipRumor) {
			fmt.Printf("💚 %s is alive (incarnation %d)\n", m.Member.ID, m.Member.Incarnation)
		},
		OnSuspect: func(m membership.MembershipRumor) {
			fmt.Printf("🤔 %s is suspect\n", m.Member.ID)
		},
		OnConfirmed: func(m membership.MembershipRumor) {
			fmt.Printf("💀 %s confirmed down\n", m.Member.ID)
		},
	})
	c.Start()
	defer c.Stop()

	for _, seed := range parseSeeds(*seeds) {
		fmt.Printf("🌱 Seeding %s at %s\n", seed.ID, seed.Address)
		c.Connect(seed)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := api.NewHandler(c)

	v1 := router.Group("/v1")
	{
		v1.GET("/status", h.GetStatus)
		v1.GET("/members", h.GetMembers)
		v1.GET("/members/:id", h.GetMember)
		v1.GET("/rumors", h.GetRumors)
		v1.GET("/rounds", h.GetRounds)
		v1.POST("/connect", h.Connect)
		v1.POST("/pause", h.Pause)
		v1.POST("/resume", h.Resume)
		v1.POST("/blacklist", h.Blacklist)
		v1.POST("/partition", h.Partition)
		v1.POST("/heal", h.Heal)
	}
	router.GET("/v1/feed", h.Feed)

	if *snapshotPath != "" {
		store, err := snapshot.Open(*snapshotPath)
		if err != nil {
			log.Fatal("failed to open snapshot store:", err)
		}
		defer store.Close()
		sh := api.NewSnapshotHandler(h, store)
		v1.POST("/snapshot/save", sh.Save)
		v1.POST("/snapshot/load", sh.Load)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "swimguard gossip member",
			"self":    memberID,
			"api":     "/v1",
			"feed":    "/v1/feed",
		})
	})

	fmt.Printf("🌐 HTTP control surface on http://localhost%s\n", *httpAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := router.Run(*httpAddr); err != nil {
			log.Fatal("failed to start HTTP server:", err)
		}
	}()

	<-sigChan
	fmt.Printf("\n🛑 shutdown signal received, stopping cluster\n")
}

func parseSeeds(raw string) []membership.Member {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []membership.Member
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, membership.Member{ID: parts[0], Address: parts[1]})
	}
	return out
}
