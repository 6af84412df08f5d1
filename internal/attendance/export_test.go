package attendance

func KeyLockSize(k *KeyLock) int { return k.size() }
