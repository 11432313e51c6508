package credential

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PrivateKeyFile = "privateKey.pem"
	PublicKeyFile  = "publicKey.pem"
)

// KeyPair ES256 签名密钥，进程启动时加载一次，之后只读
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// GenerateKeyPair 生成新的 P-256 密钥对
func GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("生成密钥失败: %w", err)
	}
	return KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// LoadKeyPair 从 PEM 文件加载密钥对，privPath 为空时只加载公钥
func LoadKeyPair(privPath, pubPath string) (KeyPair, error) {
	var keys KeyPair

	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("读取公钥失败: %w", err)
	}
	keys.Public, err = jwt.ParseECPublicKeyFromPEM(pubPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("解析公钥失败: %w", err)
	}

	if privPath == "" {
		return keys, nil
	}
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("读取私钥失败: %w", err)
	}
	keys.Private, err = jwt.ParseECPrivateKeyFromPEM(privPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("解析私钥失败: %w", err)
	}
	if !keys.Private.PublicKey.Equal(keys.Public) {
		return KeyPair{}, fmt.Errorf("公钥与私钥不匹配")
	}
	return keys, nil
}

// WriteKeyPairPEM 将密钥对以 PKCS8/SPKI 格式写入 dir
func WriteKeyPairPEM(keys KeyPair, dir string) error {
	if keys.Private == nil {
		return fmt.Errorf("私钥为空")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("创建密钥目录失败: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(keys.Private)
	if err != nil {
		return fmt.Errorf("编码私钥失败: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&keys.Private.PublicKey)
	if err != nil {
		return fmt.Errorf("编码公钥失败: %w", err)
	}

	privBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(filepath.Join(dir, PrivateKeyFile), privBytes, 0o600); err != nil {
		return fmt.Errorf("写入私钥失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), pubBytes, 0o644); err != nil {
		return fmt.Errorf("写入公钥失败: %w", err)
	}
	return nil
}
