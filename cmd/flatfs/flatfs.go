/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 13:18:26 2017 mstenber
 * Last modified: Thu Apr 12 12:05:31 2018 mstenber
 * Edit time:     97 min
 *
 */

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/hanwen/go-fuse/fuse"

	"github.com/fingon/go-flatfs/config"
	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/fusefs"
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/server"
	"github.com/fingon/go-flatfs/storage/factory"
)

func main() {
	// Environment and $FLATFS_CONFIG_FILE provide the flag defaults
	conf, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [-mountpoint DIR] [-address ADDR]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&conf.Backend, "backend", conf.Backend,
		fmt.Sprintf("Backend to use (possible: %v)", factory.List()))
	flag.StringVar(&conf.Directory, "directory", conf.Directory, "Storage directory")
	flag.IntVar(&conf.Blocks, "blocks", conf.Blocks, "Number of blocks in the device")
	flag.IntVar(&conf.Inodes, "inodes", conf.Inodes, "Number of inodes when formatting (also on first use)")
	flag.StringVar(&conf.Cache, "cache", conf.Cache,
		fmt.Sprintf("Block cache to use (possible: %v)", factory.ListCaches()))
	flag.IntVar(&conf.CacheSize, "cachesize", conf.CacheSize, "Number of blocks to cache")
	flag.StringVar(&conf.Password, "password", conf.Password, "Password (empty = no encryption)")
	flag.StringVar(&conf.Salt, "salt", conf.Salt, "Salt")
	flag.StringVar(&conf.Compression, "compression", conf.Compression, "Block compression (lz4, snappy or empty)")
	flag.BoolVar(&conf.Integrity, "integrity", conf.Integrity, "Authenticate blocks")
	flag.StringVar(&conf.Family, "family", conf.Family, "Address family to use for server")
	flag.StringVar(&conf.Address, "address", conf.Address, "Address to use for server")
	flag.StringVar(&conf.Mountpoint, "mountpoint", conf.Mountpoint, "Where to mount the file system")
	flag.DurationVar(&conf.SeekDelay, "seekdelay", conf.SeekDelay, "Simulated seek time per block of head movement")
	format := flag.Bool("format", false, "Format the file system on startup")
	cpuprofile := flag.String("cpuprofile", "", "CPU profile file")
	memprofile := flag.String("memprofile", "", "Memory profile file")
	profile := flag.Bool("profile", false, "Whether to enable profiling 'bonus stuff'")

	flag.Parse()

	err = conf.Validate()
	if err != nil {
		log.Fatal(err)
	}
	if conf.Mountpoint == "" && conf.Address == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *profile {
		runtime.SetBlockProfileRate(1000)    // microsecond
		runtime.SetMutexProfileFraction(100) // 1/100 is enough
	}
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// actual filesystem
	be, err := conf.NewBackend()
	if err != nil {
		log.Fatal(err)
	}
	myfs, err := fs.NewFsWithInodes(be, conf.Inodes)
	if err != nil {
		log.Fatal(err)
	}
	if *format {
		err = myfs.Format(conf.Inodes)
		if err != nil {
			log.Fatal(err)
		}
	}

	// grpc server
	var serv *server.Server
	if conf.Address != "" {
		serv, err = (&server.Server{Family: conf.Family,
			Address: conf.Address, Fs: myfs}).Init()
		if err != nil {
			log.Fatal(err)
		}
	}

	ops := fusefs.NewOps(myfs)
	if conf.Mountpoint != "" {
		opts := &fuse.MountOptions{Name: "flatfs", FsName: conf.Backend}
		if mlog.IsEnabled() {
			opts.Debug = true
		}
		fuseServer, err := fuse.NewServer(ops, conf.Mountpoint, opts)
		if err != nil {
			log.Panic(err)
		}
		go func() {
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c
			fuseServer.Unmount()
		}()

		// loop is here
		fuseServer.Serve()
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
	}

	// then close things in order (could use defer, but rather get
	// things cleared before we get out for memory profiling etc)
	if serv != nil {
		serv.Stop()
	}
	ops.Close()

	// myfs will take care of backend clearing as well
	err = myfs.Close()
	if err != nil {
		log.Print(err)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.WriteHeapProfile(f)
		f.Close()
		return
	}
}
