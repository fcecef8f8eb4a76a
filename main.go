package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/federation"
	"github.com/vireonet/vireo/ui/admin"
	"github.com/vireonet/vireo/util"
	"github.com/vireonet/vireo/web"
)

func main() {
	adminMode := flag.Bool("admin", false, "open the node administration panel instead of serving")
	flag.Parse()

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Running database migrations...")
	database := db.GetDB()
	if err := database.Migrate(); err != nil {
		log.Fatalln("Migration failed:", err)
	}
	log.Println("Database migrations complete")

	eng, err := federation.NewEngine(database, conf)
	if err != nil {
		log.Fatalln(err)
	}

	if *adminMode {
		runAdmin(eng)
		return
	}

	eng.Start()
	startServing(conf, eng)
}

func runAdmin(eng *federation.Engine) {
	p := tea.NewProgram(admin.InitialModel(eng.Registry, 80, 24), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalln(err)
	}
}

func startServing(conf *util.AppConfig, eng *federation.Engine) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, eng); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping delivery worker")
	eng.Stop()
}
