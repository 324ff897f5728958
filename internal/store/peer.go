// Package store keeps the address book of known receivers.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"gorm.io/gorm"
)

var (
	ErrPeerNotFound = errors.New("peer not found")
	ErrPeerExists   = errors.New("peer already exists")
)

type PeerStore struct {
	DB *gorm.DB
}

func NewPeerStore(db *gorm.DB) *PeerStore {
	return &PeerStore{DB: db}
}

func (ps *PeerStore) CreatePeer(name, host string, port int) (db.Peer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return db.Peer{}, errors.New("peer name is empty")
	}
	if host == "" {
		return db.Peer{}, errors.New("peer host is empty")
	}
	if port <= 0 || port > 65535 {
		return db.Peer{}, fmt.Errorf("peer port %d out of range", port)
	}

	peer := db.Peer{Name: name, Host: host, Port: port}
	err := ps.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Peer{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrPeerExists, name)
		}
		return tx.Create(&peer).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return db.Peer{}, fmt.Errorf("%w: %s", ErrPeerExists, name)
	}
	return peer, err
}

func (ps *PeerStore) GetPeer(name string) (db.Peer, error) {
	var peer db.Peer
	err := ps.DB.First(&peer, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Peer{}, fmt.Errorf("%w: %s", ErrPeerNotFound, name)
	}
	return peer, err
}

func (ps *PeerStore) GetPeers() ([]db.Peer, error) {
	var peers []db.Peer
	err := ps.DB.Order("name").Find(&peers).Error
	return peers, err
}

func (ps *PeerStore) DeletePeer(name string) error {
	res := ps.DB.Where("name = ?", name).Delete(&db.Peer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, name)
	}
	return nil
}
